// Package fakedap is an in-memory ARMv8-A debug core simulator. It
// implements dap.AP and dap.Port well enough to drive the opcode pump, the
// DPM, the breakpoint slot manager and the run-control state machine
// end-to-end without real hardware, so that this module's round-trip and
// invariant tests (specification §8) can run as ordinary Go tests.
//
// It is not a general ARM emulator: it only interprets the fixed, closed
// set of opcodes armasm knows how to build, because that is the only
// instruction stream this driver ever smuggles through the ITR.
package fakedap

import (
	"context"
	"fmt"

	"github.com/jetsetilly/armdap/armasm"
	"github.com/jetsetilly/armdap/dap"
	"github.com/jetsetilly/armdap/debugregs"
)

// Core is the simulated target. Zero value is not usable; use NewCore.
type Core struct {
	// architectural state
	Regs  [31]uint64
	PC    uint64
	CPSR  uint32
	SCTLR uint64
	EL    int // current exception level: 1, 2 or 3

	Halted      bool
	DebugReason string

	// debug register file
	dscr   uint32
	dtrrx  uint32
	dtrtx  uint32
	edecr  uint32
	edesr  uint32
	wfar   uint64
	prsr   uint32
	locked bool
	oslock bool

	mainID0, mainID4         uint32
	memFeature0, memFeature4 uint32
	dbgFeature0, dbgFeature4 uint32

	bvr [16][2]uint32 // [i][0]=low 32, [i][1]=high 32
	bcr [16]uint32
	wvr [16][2]uint32
	wcr [16]uint32

	// CTI register file
	ctiCTR      uint32
	ctiOuten0   uint32
	ctiOuten1   uint32
	ctiGate     uint32
	ctiTROut    uint32
	ctiUnlocked bool

	// target memory, addressed from base
	Base uint64
	Mem  []byte

	// instrumentation consumed by diagdash/tests
	PollCount    int
	HaltCount    int
	OpcodeErrors int

	// AutoReHaltOnRestart makes the core halt again immediately after every
	// CTI restart pulse, simulating a single-step trap without modelling
	// real instruction execution. Off by default; single-step tests turn it
	// on for the one restart pulse they care about.
	AutoReHaltOnRestart bool
}

// NewCore creates a simulated core with memSize bytes of target memory
// starting at base, and a debug/dbgfeature identification matching the
// specification's end-to-end scenario #1 (brp_num=16, brp_num_context=2).
func NewCore(base uint64, memSize int) *Core {
	c := &Core{
		Base:        base,
		Mem:         make([]byte, memSize),
		dscr:        debugregs.DSCR_ITE,
		mainID0:     0x410fd034,
		dbgFeature0: 0x100F_F00F,
		EL:          1,
	}
	return c
}

// BCRAt exposes the raw control-register contents of breakpoint/watchpoint
// slot i (0-15 = BCR, 16-31 = WCR), for tests asserting on bank state
// without a register-read round trip through the DAP.
func (c *Core) BCRAt(i int) uint32 {
	if i >= 0 && i < 16 {
		return c.bcr[i]
	}
	return c.wcr[i-16]
}

// BVRAt is the BCRAt counterpart for the value register.
func (c *Core) BVRAt(i int) uint64 {
	if i >= 0 && i < 16 {
		return uint64(c.bvr[i][1])<<32 | uint64(c.bvr[i][0])
	}
	return uint64(c.wvr[i-16][1])<<32 | uint64(c.wvr[i-16][0])
}

// Reset simulates a warm reset pulse: architectural state returns to its
// reset values and the core leaves halted state, as real hardware would
// while SRST is asserted.
func (c *Core) Reset() {
	c.Regs = [31]uint64{}
	c.PC = 0
	c.CPSR = 0
	c.SCTLR = 0
	c.Halted = false
	c.dscr &^= debugregs.DSCR_HALT_MASK
	c.ctiTROut = 0
}

// Halt simulates an external CTI-driven halt request reaching the core.
func (c *Core) Halt() {
	if !c.Halted {
		c.Halted = true
		c.HaltCount++
		c.dscr |= debugregs.DSCR_HALT_MASK
		c.ctiTROut = 1
	}
}

func regOffset(debugBase uint64, addr uint64) (uint64, bool) {
	if addr < debugBase {
		return 0, false
	}
	return addr - debugBase, true
}

// apbAP implements dap.AP against the debug register block of a Core.
type apbAP struct {
	c          *Core
	debugBase  uint64
	ctiBase    uint64
}

// ahbAP implements dap.AP against Core.Mem directly.
type ahbAP struct {
	c *Core
}

// Port implements dap.Port, vending the two AP views of a single Core.
type Port struct {
	C             *Core
	DebugBaseAddr uint64
	CTIBase       uint64
	NoAHB         bool // when true, FindAP(AHBAP) fails, as on a core with no memory AP
}

func NewPort(c *Core, debugBase, ctiBase uint64) *Port {
	return &Port{C: c, DebugBaseAddr: debugBase, CTIBase: ctiBase}
}

func (p *Port) FindAP(ctx context.Context, kind dap.APKind) (dap.AP, error) {
	switch kind {
	case dap.APBAP:
		return &apbAP{c: p.C, debugBase: p.DebugBaseAddr, ctiBase: p.CTIBase}, nil
	case dap.AHBAP:
		if p.NoAHB {
			return nil, fmt.Errorf("no AHB-AP present")
		}
		return &ahbAP{c: p.C}, nil
	default:
		return nil, fmt.Errorf("unknown AP kind")
	}
}

// DebugBase satisfies dap.Port.
func (p *Port) DebugBase(ctx context.Context, ap dap.AP) (uint64, error) { return p.DebugBaseAddr, nil }

// LookupCSComponent satisfies dap.Port: the only component this driver ever
// looks up is the Cross-Trigger Interface.
func (p *Port) LookupCSComponent(ctx context.Context, ap dap.AP, name string) (uint64, error) {
	if name == "CTI" {
		return p.CTIBase, nil
	}
	return 0, fmt.Errorf("unknown component %q", name)
}

func (p *Port) AHBDebugPortInit(ctx context.Context, ap dap.AP) error { return nil }

// AssertReset simulates a warm-reset pulse reaching the core: the
// architectural state collapses to its reset values and any halt is
// released, matching real SRST behaviour.
func (p *Port) AssertReset(ctx context.Context) error {
	p.C.Reset()
	return nil
}

// DeassertReset releases the simulated reset line. The core was already
// put into its reset state by AssertReset; Poll picks up whatever state
// it settles into from here.
func (p *Port) DeassertReset(ctx context.Context) error { return nil }

// --- debug register file access (APB-AP) ---

func (c *Core) readReg(off uint64) (uint32, error) {
	switch off {
	case debugregs.DSCR:
		return c.dscr, nil
	case debugregs.DTRRX:
		c.dscr &^= debugregs.DSCR_DTR_RX_FULL
		return c.dtrrx, nil
	case debugregs.DTRTX:
		c.dscr &^= debugregs.DSCR_DTR_TX_FULL
		return c.dtrtx, nil
	case debugregs.EDECR:
		return c.edecr, nil
	case debugregs.EDESR:
		return c.edesr, nil
	case debugregs.WFAR0:
		return uint32(c.wfar), nil
	case debugregs.WFAR1:
		return uint32(c.wfar >> 32), nil
	case debugregs.PRSR:
		return c.prsr, nil
	case debugregs.MAINID0:
		return c.mainID0, nil
	case debugregs.MAINID4:
		return c.mainID4, nil
	case debugregs.MEMFEATURE0:
		return c.memFeature0, nil
	case debugregs.MEMFEATURE4:
		return c.memFeature4, nil
	case debugregs.DBGFEATURE0:
		return c.dbgFeature0, nil
	case debugregs.DBGFEATURE4:
		return c.dbgFeature4, nil
	}

	if off >= debugregs.DBGBVR0 && off < debugregs.DBGBVR0+16*debugregs.BRPWRPStride && (off-debugregs.DBGBVR0)%debugregs.BRPWRPStride < 8 {
		i := (off - debugregs.DBGBVR0) / debugregs.BRPWRPStride
		half := (off - debugregs.DBGBVR0) % debugregs.BRPWRPStride
		if half == 0 {
			return c.bvr[i][0], nil
		}
		return c.bvr[i][1], nil
	}
	if off >= debugregs.DBGBCR0 && off < debugregs.DBGBCR0+16*debugregs.BRPWRPStride {
		i := (off - debugregs.DBGBCR0) / debugregs.BRPWRPStride
		return c.bcr[i], nil
	}
	if off >= debugregs.DBGWVR0 && off < debugregs.DBGWVR0+16*debugregs.BRPWRPStride && (off-debugregs.DBGWVR0)%debugregs.BRPWRPStride < 8 {
		i := (off - debugregs.DBGWVR0) / debugregs.BRPWRPStride
		half := (off - debugregs.DBGWVR0) % debugregs.BRPWRPStride
		if half == 0 {
			return c.wvr[i][0], nil
		}
		return c.wvr[i][1], nil
	}
	if off >= debugregs.DBGWCR0 && off < debugregs.DBGWCR0+16*debugregs.BRPWRPStride {
		i := (off - debugregs.DBGWCR0) / debugregs.BRPWRPStride
		return c.wcr[i], nil
	}

	return 0, fmt.Errorf("fakedap: read from unimplemented debug register offset 0x%x", off)
}

func (c *Core) writeReg(off uint64, val uint32) error {
	switch off {
	case debugregs.DSCR:
		c.dscr = val
		return nil
	case debugregs.DTRRX:
		if c.dscr&debugregs.DSCR_MA != 0 {
			// Memory Access mode: each DTRRX write stores to the address
			// staged in X0 and auto-increments it, modelling the hardware
			// path write_apb_ab_memory streams words through.
			c.storeWord(c.Regs[0], val)
			c.Regs[0] += 4
			return nil
		}
		c.dtrrx = val
		c.dscr |= debugregs.DSCR_DTR_RX_FULL
		return nil
	case debugregs.DTRTX:
		c.dtrtx = val
		c.dscr |= debugregs.DSCR_DTR_TX_FULL
		return nil
	case debugregs.ITR:
		c.execOpcode(val)
		return nil
	case debugregs.DRCR:
		if val&debugregs.DRCR_CSE != 0 {
			c.dscr &^= debugregs.DSCR_ERR | debugregs.DSCR_SYS_ERROR_PEND
			c.dscr &^= debugregs.DSCR_DTR_RX_FULL
			c.dtrrx = 0
		}
		if val&(debugregs.DRCR_CLEAR_SPA|debugregs.DRCR_CLEAR_EXCEPTIONS) != 0 {
			c.dscr &^= debugregs.DSCR_STICKY_ABORT_PRECISE | debugregs.DSCR_STICKY_ABORT_IMPRECISE
		}
		return nil
	case debugregs.EDECR:
		c.edecr = val
		return nil
	case debugregs.LOCKACCESS:
		c.locked = val != debugregs.LockAccessUnlockValue
		return nil
	case debugregs.OSLAR:
		c.oslock = val != 0
		return nil
	}

	if off >= debugregs.DBGBVR0 && off < debugregs.DBGBVR0+16*debugregs.BRPWRPStride && (off-debugregs.DBGBVR0)%debugregs.BRPWRPStride < 8 {
		i := (off - debugregs.DBGBVR0) / debugregs.BRPWRPStride
		half := (off - debugregs.DBGBVR0) % debugregs.BRPWRPStride
		if half == 0 {
			c.bvr[i][0] = val
		} else {
			c.bvr[i][1] = val
		}
		return nil
	}
	if off >= debugregs.DBGBCR0 && off < debugregs.DBGBCR0+16*debugregs.BRPWRPStride {
		i := (off - debugregs.DBGBCR0) / debugregs.BRPWRPStride
		c.bcr[i] = val
		return nil
	}
	if off >= debugregs.DBGWVR0 && off < debugregs.DBGWVR0+16*debugregs.BRPWRPStride && (off-debugregs.DBGWVR0)%debugregs.BRPWRPStride < 8 {
		i := (off - debugregs.DBGWVR0) / debugregs.BRPWRPStride
		half := (off - debugregs.DBGWVR0) % debugregs.BRPWRPStride
		if half == 0 {
			c.wvr[i][0] = val
		} else {
			c.wvr[i][1] = val
		}
		return nil
	}
	if off >= debugregs.DBGWCR0 && off < debugregs.DBGWCR0+16*debugregs.BRPWRPStride {
		i := (off - debugregs.DBGWCR0) / debugregs.BRPWRPStride
		c.wcr[i] = val
		return nil
	}

	return fmt.Errorf("fakedap: write to unimplemented debug register offset 0x%x", off)
}

// --- CTI register file access ---

func (c *Core) readCTI(off uint64) (uint32, error) {
	switch off {
	case debugregs.CTI_CTR:
		return c.ctiCTR, nil
	case debugregs.CTI_OUTEN0:
		return c.ctiOuten0, nil
	case debugregs.CTI_OUTEN1:
		return c.ctiOuten1, nil
	case debugregs.CTI_GATE:
		return c.ctiGate, nil
	case debugregs.CTI_TROUT_STATUS:
		return c.ctiTROut, nil
	}
	return 0, nil
}

func (c *Core) writeCTI(off uint64, val uint32) error {
	switch off {
	case debugregs.CTI_CTR:
		c.ctiCTR = val
		return nil
	case debugregs.CTI_OUTEN0:
		c.ctiOuten0 = val
		return nil
	case debugregs.CTI_OUTEN1:
		c.ctiOuten1 = val
		return nil
	case debugregs.CTI_GATE:
		c.ctiGate = val
		return nil
	case debugregs.CTI_LOCKACCESS:
		c.ctiUnlocked = val == debugregs.LockAccessUnlockValue
		return nil
	case debugregs.CTI_APPPULSE:
		if val&debugregs.CTIChannelHalt != 0 {
			c.Halt()
		}
		if val&debugregs.CTIChannelRestart != 0 {
			if c.Halted {
				c.Halted = false
				c.dscr &^= debugregs.DSCR_HALT_MASK
			}
			c.ctiTROut = 0
			if c.AutoReHaltOnRestart {
				c.Halt()
			}
		}
		return nil
	case debugregs.CTI_INTACK:
		c.ctiTROut = 0
		return nil
	}
	return nil
}

// execOpcode interprets a single A64 instruction smuggled through the ITR.
// Every case leaves DSCR.ITE set, matching the architectural invariant the
// opcode pump relies on; the fake never models the "not yet complete"
// transient since no caller of this module is meant to depend on it.
func (c *Core) execOpcode(op uint32) {
	defer func() { c.dscr |= debugregs.DSCR_ITE }()

	switch {
	case op == armasm.NOP, op == armasm.DSB_SY, op == armasm.IC_IALLU:
		return

	case op == armasm.MRS_X0_DBGDTRRX_EL0:
		c.Regs[0] = uint64(c.dtrrx)
		c.dscr &^= debugregs.DSCR_DTR_RX_FULL
		return

	case op == armasm.ICIVAU_X0, op == armasm.DCCVAU_X0:
		return

	case op == armasm.LDR_W0_X0:
		c.Regs[0] = uint64(c.loadWord(c.Regs[0]))
		return

	case op == armasm.STR_W0_X1:
		c.storeWord(c.Regs[1], uint32(c.Regs[0]))
		return

	case op == armasm.ADD_X1_X1_4:
		c.Regs[1] += 4
		return

	case op == armasm.MRS_SCTLR_EL1_X0, op == armasm.MRS_SCTLR_EL2_X0, op == armasm.MRS_SCTLR_EL3_X0:
		c.Regs[0] = c.SCTLR
		return
	}

	for rt := uint32(0); rt < 31; rt++ {
		switch op {
		case armasm.MRS_Xt_DBGDTR_EL0(rt):
			c.Regs[rt] = uint64(c.dtrtx)<<32 | uint64(c.dtrrx)
			c.dscr &^= debugregs.DSCR_DTR_RX_FULL | debugregs.DSCR_DTR_TX_FULL
			return
		case armasm.MSR_DBGDTRTX_EL0_Xt(rt):
			c.dtrtx = uint32(c.Regs[rt])
			c.dscr |= debugregs.DSCR_DTR_TX_FULL
			return
		case armasm.MSR_DBGDTR_EL0_Xt(rt):
			c.dtrrx = uint32(c.Regs[rt])
			c.dtrtx = uint32(c.Regs[rt] >> 32)
			c.dscr |= debugregs.DSCR_DTR_RX_FULL | debugregs.DSCR_DTR_TX_FULL
			return
		case armasm.MRS_Xt_DLR_EL0(rt):
			c.Regs[rt] = c.PC
			return
		case armasm.MSR_DLR_EL0_Xt(rt):
			c.PC = c.Regs[rt]
			return
		case armasm.MRS_Xt_DSPSR_EL0(rt):
			c.Regs[rt] = uint64(c.CPSR)
			return
		case armasm.MSR_DSPSR_EL0_Xt(rt):
			c.CPSR = uint32(c.Regs[rt])
			return
		case armasm.MOV_Xd_X0(rt):
			c.Regs[rt] = c.Regs[0]
			return
		}
	}

	c.OpcodeErrors++
}

func (c *Core) loadWord(addr uint64) uint32 {
	idx := addr - c.Base
	if idx+4 > uint64(len(c.Mem)) {
		return 0xFFFFFFFF
	}
	return uint32(c.Mem[idx]) | uint32(c.Mem[idx+1])<<8 | uint32(c.Mem[idx+2])<<16 | uint32(c.Mem[idx+3])<<24
}

func (c *Core) storeWord(addr uint64, val uint32) {
	idx := addr - c.Base
	if idx+4 > uint64(len(c.Mem)) {
		return
	}
	c.Mem[idx] = byte(val)
	c.Mem[idx+1] = byte(val >> 8)
	c.Mem[idx+2] = byte(val >> 16)
	c.Mem[idx+3] = byte(val >> 24)
}

// --- dap.AP implementation: apbAP ---

func (a *apbAP) dispatch(addr uint64) (isCTI bool, off uint64, err error) {
	if addr >= a.ctiBase {
		return true, addr - a.ctiBase, nil
	}
	if addr >= a.debugBase {
		return false, addr - a.debugBase, nil
	}
	return false, 0, fmt.Errorf("fakedap: address 0x%x below debug base 0x%x", addr, a.debugBase)
}

func (a *apbAP) ReadAtomicU32(ctx context.Context, addr uint64) (uint32, error) {
	isCTI, off, err := a.dispatch(addr)
	if err != nil {
		return 0, err
	}
	if isCTI {
		return a.c.readCTI(off)
	}
	return a.c.readReg(off)
}

func (a *apbAP) WriteAtomicU32(ctx context.Context, addr uint64, val uint32) error {
	isCTI, off, err := a.dispatch(addr)
	if err != nil {
		return err
	}
	if isCTI {
		return a.c.writeCTI(off, val)
	}
	return a.c.writeReg(off, val)
}

func (a *apbAP) ReadU32(ctx context.Context, addr uint64) (uint32, error) {
	return a.ReadAtomicU32(ctx, addr)
}

func (a *apbAP) WriteU32(ctx context.Context, addr uint64, val uint32) error {
	return a.WriteAtomicU32(ctx, addr, val)
}

func (a *apbAP) ReadBuf(ctx context.Context, addr uint64, buf []uint32) error {
	for i := range buf {
		v, err := a.ReadAtomicU32(ctx, addr+uint64(i)*4)
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

func (a *apbAP) WriteBuf(ctx context.Context, addr uint64, buf []uint32) error {
	for i, v := range buf {
		if err := a.WriteAtomicU32(ctx, addr+uint64(i)*4, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadBufNoIncr and WriteBufNoIncr repeatedly hit the same address - the
// streaming-DTRRX idiom used while DSCR.MA is set.
func (a *apbAP) ReadBufNoIncr(ctx context.Context, addr uint64, buf []uint32) error {
	for i := range buf {
		v, err := a.ReadAtomicU32(ctx, addr)
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

func (a *apbAP) WriteBufNoIncr(ctx context.Context, addr uint64, buf []uint32) error {
	for _, v := range buf {
		if err := a.WriteAtomicU32(ctx, addr, v); err != nil {
			return err
		}
	}
	return nil
}

// --- dap.AP implementation: ahbAP (direct memory window) ---

func (a *ahbAP) ReadAtomicU32(ctx context.Context, addr uint64) (uint32, error) {
	return a.c.loadWord(addr), nil
}

func (a *ahbAP) WriteAtomicU32(ctx context.Context, addr uint64, val uint32) error {
	a.c.storeWord(addr, val)
	return nil
}

func (a *ahbAP) ReadU32(ctx context.Context, addr uint64) (uint32, error) {
	return a.ReadAtomicU32(ctx, addr)
}

func (a *ahbAP) WriteU32(ctx context.Context, addr uint64, val uint32) error {
	return a.WriteAtomicU32(ctx, addr, val)
}

func (a *ahbAP) ReadBuf(ctx context.Context, addr uint64, buf []uint32) error {
	for i := range buf {
		buf[i] = a.c.loadWord(addr + uint64(i)*4)
	}
	return nil
}

func (a *ahbAP) WriteBuf(ctx context.Context, addr uint64, buf []uint32) error {
	for i, v := range buf {
		a.c.storeWord(addr+uint64(i)*4, v)
	}
	return nil
}

func (a *ahbAP) ReadBufNoIncr(ctx context.Context, addr uint64, buf []uint32) error {
	for i := range buf {
		buf[i] = a.c.loadWord(addr)
	}
	return nil
}

func (a *ahbAP) WriteBufNoIncr(ctx context.Context, addr uint64, buf []uint32) error {
	for _, v := range buf {
		a.c.storeWord(addr, v)
	}
	return nil
}
