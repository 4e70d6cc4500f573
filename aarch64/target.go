// Package aarch64 wires the leaf packages (opcode, dpm, breakpoint, cti)
// into the per-core Target handle the specification describes: the
// run-control state machine, the memory access engine, and examine/init.
// It is the one package that knows about a concrete core, the way the
// teacher repo's coprocessor packages are the ones that know about a
// concrete cartridge architecture.
package aarch64

import (
	"context"
	"sync"

	"github.com/jetsetilly/armdap/breakpoint"
	"github.com/jetsetilly/armdap/cti"
	"github.com/jetsetilly/armdap/dap"
	"github.com/jetsetilly/armdap/dbgerr"
	"github.com/jetsetilly/armdap/debugregs"
	"github.com/jetsetilly/armdap/dpm"
	"github.com/jetsetilly/armdap/logger"
	"github.com/jetsetilly/armdap/opcode"
)

// State is a Run-Control State Machine state.
type State int

const (
	Unknown State = iota
	Running
	Halted
	Reset
	DebugRunning
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Reset:
		return "reset"
	case DebugRunning:
		return "debug running"
	default:
		return "unknown"
	}
}

// DebugReason records why the core last entered debug state.
type DebugReason int

const (
	ReasonUnknown DebugReason = iota
	ReasonDBGRQ
	ReasonBreakpoint
	ReasonWatchpoint
	ReasonNotHalted
)

// Event is emitted by Poll on a state transition into Halted.
type Event int

const (
	EventHalted Event = iota
	EventDebugHalted
)

func (e Event) String() string {
	if e == EventDebugHalted {
		return "debug halted"
	}
	return "halted"
}

// CTIBaseOffset is the default offset of the Cross-Trigger Interface
// component from a target's debug_base, used when the DAP layer cannot
// locate it by name.
const CTIBaseOffset = 0x1000

// Target is a single core's debug handle: per-core state, the DAP access
// ports it was examined through, and every leaf-package collaborator
// (DPM, CTI, breakpoint bank) that state machine and memory engine
// operations are built from.
type Target struct {
	// mu guards every exported run-control, memory and breakpoint
	// operation below, giving a Target the single-owner discipline the
	// concurrency model calls for: one caller drives a given core's debug
	// session at a time. It is not reentrant - internal helpers call each
	// other's unexported *Locked counterparts rather than the exported,
	// locking entry points.
	mu sync.Mutex

	Port dap.Port
	APB  dap.AP
	AHB  dap.AP // nil unless MemoryAPAvailable

	DebugBase uint64
	CTIBase   uint64

	DPM         *dpm.DPM
	CTI         *cti.CTI
	Bank        *breakpoint.Bank
	Breakpoints *breakpoint.Manager

	Regs RegisterCache

	State       State
	DebugReason DebugReason
	LastDSCR    uint32

	SystemControlReg     uint64
	SystemControlRegCurr uint64
	EL                   int // exception level driving SCTLR/DLR/DSPSR access: 1, 2 or 3

	MemoryAPAvailable bool
	SMP               bool
	Siblings          []*Target
	Examined          bool

	// pendingGDBSwitch and activeGDBCore model the donor's per-SMP-group
	// gdb_service: which core a GDB session is bound to, and a switch
	// requested through SelectGDBCore that the next Resume/Poll pair
	// actually carries out. activeGDBCore is nil before any switch has
	// been requested and while a switch is in flight (the donor's
	// gdb_service->target == NULL).
	pendingGDBSwitch *Target
	activeGDBCore    *Target

	MMUEnabled    bool
	ICacheEnabled bool
	DCacheEnabled bool

	// VirtToPhys backs virtual-to-physical translation for the AHB-AP fast
	// path when the MMU is enabled. Left nil, addresses pass through
	// unmodified; a front-end that owns a page-table walker sets it after
	// Examine.
	VirtToPhys func(ctx context.Context, virt uint64) (uint64, error)

	BRPNum        int
	BRPNumContext int

	OnEvent func(*Target, Event)

	Log *logger.Logger
}

// NewTarget creates an unexamined Target bound to port. EL defaults to 1
// (EL1 kernel/hypervisor-less core), the common case; callers debugging a
// hypervisor or secure monitor core set it after construction.
func NewTarget(port dap.Port) *Target {
	return &Target{
		Port: port,
		EL:   1,
		Log:  logger.NewLogger(512),
	}
}

func (t *Target) opcodeTarget() opcode.Target {
	return opcode.Target{AP: t.APB, DebugBase: t.DebugBase}
}

func (t *Target) readDSCR(ctx context.Context) (uint32, error) {
	return t.APB.ReadAtomicU32(ctx, t.DebugBase+debugregs.DSCR)
}

func (t *Target) writeDSCR(ctx context.Context, v uint32) error {
	return t.APB.WriteAtomicU32(ctx, t.DebugBase+debugregs.DSCR, v)
}

func (t *Target) emit(event Event) {
	t.Log.Logf(logger.Allow, "aarch64", "event: %v", event)
	if t.OnEvent != nil {
		t.OnEvent(t, event)
	}
}

// Examine performs the one-time setup described in §4.8 the first time it
// is called: AP discovery, debug unlock, identification-register reads and
// breakpoint-bank sizing. Every subsequent call only re-runs initDebugAccess
// (unlock + CTI setup), matching "subsequent examines only re-run
// init_debug_access".
func (t *Target) Examine(ctx context.Context) error {
	if !t.Examined {
		if err := t.examineFirst(ctx); err != nil {
			return err
		}
	}
	return t.initDebugAccess(ctx)
}

func (t *Target) examineFirst(ctx context.Context) error {
	apb, err := t.Port.FindAP(ctx, dap.APBAP)
	if err != nil {
		return dbgerr.ErrFail("no APB-AP present: %v", err)
	}
	t.APB = apb

	base, err := t.Port.DebugBase(ctx, apb)
	if err != nil {
		return err
	}
	t.DebugBase = base

	t.CTIBase, err = t.Port.LookupCSComponent(ctx, apb, "CTI")
	if err != nil {
		t.CTIBase = t.DebugBase + CTIBaseOffset
	}

	if ahb, err := t.Port.FindAP(ctx, dap.AHBAP); err == nil {
		t.AHB = ahb
		t.MemoryAPAvailable = true
		if err := t.Port.AHBDebugPortInit(ctx, ahb); err != nil {
			return err
		}
	}

	t.DPM = dpm.New(t.opcodeTarget())
	t.DPM.X0Dirty = func() { t.Regs.MarkDirty(0) }
	t.CTI = cti.New(t.APB, t.CTIBase)

	if err := t.APB.WriteAtomicU32(ctx, t.DebugBase+debugregs.LOCKACCESS, debugregs.LockAccessUnlockValue); err != nil {
		return err
	}
	if err := t.CTI.Unlock(ctx); err != nil {
		return err
	}
	if err := t.APB.WriteAtomicU32(ctx, t.DebugBase+debugregs.OSLAR, 0); err != nil {
		return err
	}

	dfr0, err := t.APB.ReadAtomicU32(ctx, t.DebugBase+debugregs.DBGFEATURE0)
	if err != nil {
		return err
	}

	t.BRPNum = int((dfr0>>12)&0xF) + 1
	t.BRPNumContext = int((dfr0>>28)&0xF) + 1

	t.Bank = breakpoint.NewBank(t.BRPNum, t.BRPNumContext)
	t.Breakpoints = breakpoint.NewManager(t.DPM, t, t.Bank)

	t.Examined = true
	return nil
}

// initDebugAccess is §4.9: unlock (one retry), clear sticky power-down,
// enable CTI with all four channel gates open, set DSCR.HDE, then poll.
func (t *Target) initDebugAccess(ctx context.Context) error {
	err := t.APB.WriteAtomicU32(ctx, t.DebugBase+debugregs.LOCKACCESS, debugregs.LockAccessUnlockValue)
	if err != nil {
		err = t.APB.WriteAtomicU32(ctx, t.DebugBase+debugregs.LOCKACCESS, debugregs.LockAccessUnlockValue)
		if err != nil {
			return err
		}
	}

	if _, err := t.APB.ReadAtomicU32(ctx, t.DebugBase+debugregs.PRSR); err != nil {
		return err
	}

	if err := t.CTI.Configure(ctx, 0xF); err != nil {
		return err
	}

	dscr, err := t.readDSCR(ctx)
	if err != nil {
		return err
	}
	if err := t.writeDSCR(ctx, dscr|debugregs.DSCR_HDE); err != nil {
		return err
	}

	_, err = t.Poll(ctx)
	return err
}
