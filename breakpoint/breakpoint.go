// Package breakpoint is the Breakpoint Slot Manager (specification §4.5):
// the fixed-size debug-register bank allocator sitting on top of the DPM's
// bpwp_enable/bpwp_disable. The allocation strategy - scan a small fixed
// array for the first unused entry, compute the control-register bit
// pattern, write value-then-control, fail ResourceUnavailable when the bank
// is exhausted - mirrors the hardware debug-register allocator idiom used
// for x86 DR0-DR3 (scan a 4-entry array, reject out-of-range indices,
// clear-then-set the shared control word).
package breakpoint

import (
	"context"

	"github.com/jetsetilly/armdap/armasm"
	"github.com/jetsetilly/armdap/dbgerr"
	"github.com/jetsetilly/armdap/dpm"
)

// Kind distinguishes how a bank slot's value register is matched.
type Kind int

const (
	Normal  Kind = iota // value register holds a virtual address
	Context             // value register holds a context ID (ASID)
)

// Type identifies which of the four set paths produced a Breakpoint.
type Type int

const (
	Hard Type = iota
	Soft
	ContextID
	Hybrid
)

// Memory is the subset of the memory access engine the soft (instruction
// replacement) set path needs. It is supplied by the layer that owns the
// memory engine (the aarch64 target), keeping this package free of any
// dependency on how a word actually reaches target memory.
type Memory interface {
	ReadWord(ctx context.Context, addr uint64) (uint32, error)
	WriteWord(ctx context.Context, addr uint64, val uint32) error
}

type slot struct {
	kind Kind
	used bool
}

// Breakpoint is a single armed breakpoint or watchpoint. Set mirrors the
// donor field of the same name: 0 means unarmed, 0x11 marks a soft
// breakpoint, anything else is slot_index+1.
type Breakpoint struct {
	Type      Type
	Address   uint64
	Set       int
	LinkedBRP int // hybrid only: the paired NORMAL slot index

	origInstr   uint32 // soft only
	asid        uint32 // context/hybrid only
	contextSlot int    // hybrid only: the paired CONTEXT slot index
}

// Bank is the fixed-size BVR/BCR (and WVR/WCR) register bank a target
// exposes, partitioned into NORMAL and CONTEXT slots per the DFR0 feature
// read done at examine time.
type Bank struct {
	slots []slot
}

// NewBank partitions a bank of n slots: the first n-numContext are NORMAL,
// the remainder CONTEXT - mirroring init_target's brp_list construction
// from brp_num and brp_num_context.
func NewBank(n, numContext int) *Bank {
	b := &Bank{slots: make([]slot, n)}
	for i := range b.slots {
		if i >= n-numContext {
			b.slots[i].kind = Context
		} else {
			b.slots[i].kind = Normal
		}
	}
	return b
}

func (b *Bank) firstUnused(kind Kind, anyKind bool) (int, bool) {
	for i := range b.slots {
		if b.slots[i].used {
			continue
		}
		if anyKind || b.slots[i].kind == kind {
			return i, true
		}
	}
	return 0, false
}

// Manager drives the set/unset paths for one target, against one DPM and
// one register bank.
type Manager struct {
	DPM    *dpm.DPM
	Memory Memory
	Bank   *Bank
}

func NewManager(d *dpm.DPM, mem Memory, bank *Bank) *Manager {
	return &Manager{DPM: d, Memory: mem, Bank: bank}
}

func byteAddrSelect(addr uint64, size int) (uint32, error) {
	switch size {
	case 4:
		return 0xF, nil
	case 2:
		return 3 << (addr & 2), nil
	default:
		return 0, dbgerr.ErrSyntaxError("unsupported breakpoint access size %d", size)
	}
}

func bcrValue(matchmode uint32, byteAddrSelect uint32) uint32 {
	return (matchmode&7)<<20 | byteAddrSelect<<5 | (3 << 1) | (1 << 13) | 1
}

// SetHard arms a hardware address-match breakpoint in the first free slot,
// regardless of its NORMAL/CONTEXT partition (the donor scans the whole
// brp_list without filtering by type for this path).
func (m *Manager) SetHard(ctx context.Context, addr uint64, size int) (*Breakpoint, error) {
	i, ok := m.Bank.firstUnused(Normal, true)
	if !ok {
		return nil, dbgerr.ErrResourceUnavailable("no free breakpoint slot")
	}

	bas, err := byteAddrSelect(addr, size)
	if err != nil {
		return nil, err
	}
	value := addr &^ 3
	ctrl := bcrValue(0, bas)

	if err := m.DPM.BpwpEnable(ctx, i, value, ctrl); err != nil {
		return nil, err
	}

	m.Bank.slots[i].used = true
	return &Breakpoint{Type: Hard, Address: value, Set: i + 1}, nil
}

// SetSoft replaces the instruction at address with BRK #0x11, saving the
// original word so Unset can restore it.
func (m *Manager) SetSoft(ctx context.Context, address uint64) (*Breakpoint, error) {
	addr := address &^ 1
	orig, err := m.Memory.ReadWord(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := m.Memory.WriteWord(ctx, addr, armasm.BRK_11); err != nil {
		return nil, err
	}
	if err := m.DPM.InstrExecute(ctx, armasm.IC_IALLU); err != nil {
		return nil, err
	}

	return &Breakpoint{
		Type:      Soft,
		Address:   addr,
		Set:       armasm.HaltInstruction,
		origInstr: orig,
	}, nil
}

// SetContextID arms a context-ID match breakpoint, using asid as the BVR
// match value.
func (m *Manager) SetContextID(ctx context.Context, asid uint32) (*Breakpoint, error) {
	i, ok := m.Bank.firstUnused(Context, false)
	if !ok {
		return nil, dbgerr.ErrResourceUnavailable("no free context-ID breakpoint slot")
	}

	ctrl := bcrValue(2, 0xF)
	if err := m.DPM.BpwpEnable(ctx, i, uint64(asid), ctrl); err != nil {
		return nil, err
	}

	m.Bank.slots[i].used = true
	return &Breakpoint{Type: ContextID, Set: i + 1, asid: asid}, nil
}

// SetHybrid arms a linked address+context pair: a CONTEXT slot matching
// asid and a NORMAL slot matching addr, cross-referenced through each
// other's BCR.
func (m *Manager) SetHybrid(ctx context.Context, addr uint64, size int, asid uint32) (*Breakpoint, error) {
	c, ok := m.Bank.firstUnused(Context, false)
	if !ok {
		return nil, dbgerr.ErrResourceUnavailable("no free context-ID breakpoint slot")
	}
	n, ok := m.Bank.firstUnused(Normal, false)
	if !ok {
		return nil, dbgerr.ErrResourceUnavailable("no free address-match breakpoint slot")
	}

	bas, err := byteAddrSelect(addr, size)
	if err != nil {
		return nil, err
	}

	contextCtrl := bcrValue(3, 0xF) | uint32(n)<<16
	normalCtrl := bcrValue(1, bas) | uint32(c)<<16

	if err := m.DPM.BpwpEnable(ctx, c, uint64(asid), contextCtrl); err != nil {
		return nil, err
	}
	value := addr &^ 3
	if err := m.DPM.BpwpEnable(ctx, n, value, normalCtrl); err != nil {
		return nil, err
	}

	m.Bank.slots[c].used = true
	m.Bank.slots[n].used = true
	return &Breakpoint{Type: Hybrid, Address: value, Set: n + 1, LinkedBRP: n, asid: asid, contextSlot: c}, nil
}

// Unset disarms bp, restoring memory for a soft breakpoint or clearing the
// control register(s) of a hard/context/hybrid one.
func (m *Manager) Unset(ctx context.Context, bp *Breakpoint) error {
	if bp.Set == armasm.HaltInstruction {
		if err := m.Memory.WriteWord(ctx, bp.Address, bp.origInstr); err != nil {
			return err
		}
		if err := m.DPM.InstrExecute(ctx, armasm.IC_IALLU); err != nil {
			return err
		}
		bp.Set = 0
		return nil
	}

	i := bp.Set - 1
	if err := m.DPM.BpwpDisable(ctx, i); err != nil {
		return err
	}
	m.Bank.slots[i].used = false

	if bp.Type == Hybrid {
		if err := m.DPM.BpwpDisable(ctx, bp.contextSlot); err != nil {
			return err
		}
		m.Bank.slots[bp.contextSlot].used = false
	}
	bp.Set = 0
	return nil
}
