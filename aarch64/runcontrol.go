package aarch64

import (
	"context"
	"time"

	"github.com/jetsetilly/armdap/armasm"
	"github.com/jetsetilly/armdap/dbgerr"
	"github.com/jetsetilly/armdap/deadline"
	"github.com/jetsetilly/armdap/debugregs"
	"github.com/jetsetilly/armdap/logger"
	"github.com/jetsetilly/armdap/opcode"
)

// haltChannelGate is the GATE value halt() programs: channels 0 and 1
// open (CTIChannelHalt | CTIChannelRestart), matching the donor's GATE=3.
const haltChannelGate = debugregs.CTIChannelHalt | debugregs.CTIChannelRestart

const haltPollTimeout = 1 * time.Second
const restartPollTimeout = 1 * time.Second
const stepPollTimeout = 2 * time.Second

// Poll reads DSCR and advances the state machine. A transition into Halted
// runs debug-entry and emits EventHalted (from Running/Unknown/Reset) or
// EventDebugHalted (from DebugRunning).
func (t *Target) Poll(ctx context.Context) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pollLocked(ctx)
}

func (t *Target) pollLocked(ctx context.Context) (State, error) {
	// A core switch requested through SelectGDBCore completes here: once
	// this (already-halted) core is polled again with the switch still
	// pending, hand gdb the new active core and report a synthetic halt
	// instead of re-reading DSCR - matching the donor's early-return
	// branch in aarch64_poll.
	if t.SMP && t.activeGDBCore == nil && t.pendingGDBSwitch != nil && t.State == Halted {
		t.activeGDBCore = t.pendingGDBSwitch
		t.pendingGDBSwitch = nil
		t.emit(EventHalted)
		return t.State, nil
	}

	dscr, err := t.readDSCR(ctx)
	if err != nil {
		return Unknown, err
	}
	t.LastDSCR = dscr

	halted := dscr&debugregs.DSCR_HALT_MASK != 0
	prior := t.State

	switch {
	case halted && (prior == Running || prior == Unknown || prior == Reset):
		t.State = Halted
		if err := t.debugEntry(ctx); err != nil {
			return t.State, err
		}
		t.emit(EventHalted)
		t.fanOutHalt(ctx)
	case halted && prior == DebugRunning:
		t.State = Halted
		if err := t.debugEntry(ctx); err != nil {
			return t.State, err
		}
		t.emit(EventDebugHalted)
		t.fanOutHalt(ctx)
	case !halted:
		t.State = Running
	default:
		t.State = Unknown
	}

	return t.State, nil
}

// fanOutHalt propagates a halt observed on this core to every sibling not
// already halted, per the SMP fan-out rule.
func (t *Target) fanOutHalt(ctx context.Context) {
	if !t.SMP {
		return
	}
	for _, s := range t.Siblings {
		if s.State != Halted {
			if err := s.Halt(ctx); err != nil {
				t.Log.Logf(logger.Allow, "aarch64", "SMP halt fan-out failed: %v", err)
			}
		}
	}
}

// Halt requests a debug halt: program the CTI halt/restart channel gate,
// set DSCR.HDE, pulse the halt channel, wait for and acknowledge the
// trigger, then poll DSCR.HALT_MASK until it sets.
func (t *Target) Halt(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.haltLocked(ctx)
}

func (t *Target) haltLocked(ctx context.Context) error {
	if err := t.CTI.Configure(ctx, haltChannelGate); err != nil {
		return err
	}

	dscr, err := t.readDSCR(ctx)
	if err != nil {
		return err
	}
	if err := t.writeDSCR(ctx, dscr|debugregs.DSCR_HDE); err != nil {
		return err
	}

	if err := t.CTI.Pulse(ctx, debugregs.CTIChannelHalt); err != nil {
		return err
	}
	if err := t.CTI.WaitTriggered(ctx, deadline.In(haltPollTimeout)); err != nil {
		return err
	}
	if err := t.CTI.Ack(ctx); err != nil {
		return err
	}

	d := deadline.In(haltPollTimeout)
	for {
		dscr, err := t.readDSCR(ctx)
		if err != nil {
			return err
		}
		if dscr&debugregs.DSCR_HALT_MASK != 0 {
			break
		}
		if d.Expired() {
			return dbgerr.ErrTimeout("timed out waiting for HALT_MASK")
		}
	}

	t.DebugReason = ReasonDBGRQ
	_, err = t.pollLocked(ctx)
	return err
}

// Resume is internal_restore followed by internal_restart: recover the
// resume PC, restore a stale system control register and any dirty
// scratch registers, invalidate the cache, then restart the core through
// the CTI.
func (t *Target) Resume(ctx context.Context, current bool, address uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumeLocked(ctx, current, address)
}

func (t *Target) resumeLocked(ctx context.Context, current bool, address uint64) error {
	// A pending SelectGDBCore switch turns this into a dummy resume: no
	// hardware is touched, gdb is just told resume succeeded while the
	// core stays exactly as halted as it was. The next Poll plays the
	// halt event for the newly-selected core.
	if t.SMP && t.pendingGDBSwitch != nil {
		t.activeGDBCore = nil
		return nil
	}

	if t.State != Halted {
		return dbgerr.ErrTargetNotHalted()
	}

	pc := t.Regs.PC()
	if !current {
		pc = address
	}
	pc &^= 0x3 // AArch64: PC is always 4-byte aligned

	if err := t.DPM.Prepare(ctx); err != nil {
		return err
	}

	if err := t.writebackPC(ctx, pc); err != nil {
		return err
	}

	if t.SystemControlRegCurr != t.SystemControlReg {
		if err := t.writeSCTLR(ctx, t.SystemControlReg); err != nil {
			return err
		}
		t.SystemControlRegCurr = t.SystemControlReg
	}

	if err := t.writebackDirtyRegisters(ctx); err != nil {
		return err
	}

	if err := t.DPM.Finish(ctx); err != nil {
		return err
	}

	t.Regs.Invalidate()
	t.State = Running
	t.DebugReason = ReasonNotHalted

	if err := t.internalRestart(ctx); err != nil {
		return err
	}

	if t.SMP {
		for _, s := range t.Siblings {
			if err := s.Resume(ctx, true, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// internalRestart mirrors aarch64_internal_restart. Per the Open Question
// resolution: when InstrCompl is already clear and the core is not
// halted, the core has already left debug state on its own and the
// function returns immediately rather than pulsing a redundant restart.
func (t *Target) internalRestart(ctx context.Context) error {
	dscr, err := t.readDSCR(ctx)
	if err != nil {
		return err
	}

	if dscr&debugregs.DSCR_ITE == 0 {
		if dscr&debugregs.DSCR_HALT_MASK == 0 {
			return nil
		}
		if err := opcode.Exec(ctx, t.opcodeTarget(), armasm.NOP, &dscr); err != nil {
			return err
		}
	}

	if err := t.APB.WriteAtomicU32(ctx, t.DebugBase+debugregs.DRCR,
		debugregs.DRCR_CLEAR_SPA|debugregs.DRCR_CLEAR_EXCEPTIONS); err != nil {
		return err
	}
	if err := t.CTI.Ack(ctx); err != nil {
		return err
	}
	if err := t.CTI.Pulse(ctx, debugregs.CTIChannelRestart); err != nil {
		return err
	}

	d := deadline.In(restartPollTimeout)
	for {
		dscr, err := t.readDSCR(ctx)
		if err != nil {
			return err
		}
		if dscr&debugregs.DSCR_HDE != 0 {
			return nil
		}
		if d.Expired() {
			return dbgerr.ErrTimeout("timed out waiting for HDE after restart")
		}
	}
}

// Step arms halting-step mode, resumes for exactly one instruction, and
// waits for the core to re-enter Halted.
func (t *Target) Step(ctx context.Context, current bool, address uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stepLocked(ctx, current, address)
}

func (t *Target) stepLocked(ctx context.Context, current bool, address uint64) error {
	if t.State != Halted {
		return dbgerr.ErrTargetNotHalted()
	}

	edecr, err := t.APB.ReadAtomicU32(ctx, t.DebugBase+debugregs.EDECR)
	if err != nil {
		return err
	}
	if err := t.APB.WriteAtomicU32(ctx, t.DebugBase+debugregs.EDECR, edecr|debugregs.EDECR_SS_HALTING_STEP_ENABLE); err != nil {
		return err
	}

	if err := t.resumeLocked(ctx, current, address); err != nil {
		return err
	}

	d := deadline.In(stepPollTimeout)
	for {
		state, err := t.pollLocked(ctx)
		if err != nil {
			return err
		}
		if state == Halted {
			break
		}
		if d.Expired() {
			return dbgerr.ErrTimeout("timed out waiting for step to complete")
		}
	}

	edecr, err = t.APB.ReadAtomicU32(ctx, t.DebugBase+debugregs.EDECR)
	if err != nil {
		return err
	}
	if err := t.APB.WriteAtomicU32(ctx, t.DebugBase+debugregs.EDECR, edecr&^debugregs.EDECR_SS_HALTING_STEP_ENABLE); err != nil {
		return err
	}

	t.DebugReason = ReasonBreakpoint
	return nil
}

// debugEntry reads the registers a debugger needs to present state
// immediately after a halt: status registers and DSCR for logging, the
// watchpoint fault address if relevant, and every general
// register. It finishes with the architecture-specific post-entry hook.
func (t *Target) debugEntry(ctx context.Context) error {
	prsr, err := t.APB.ReadAtomicU32(ctx, t.DebugBase+debugregs.PRSR)
	if err != nil {
		return err
	}
	edesr, err := t.APB.ReadAtomicU32(ctx, t.DebugBase+debugregs.EDESR)
	if err != nil {
		return err
	}
	t.Log.Logf(logger.Allow, "aarch64", "debug entry: dscr=0x%08x prsr=0x%08x edesr=0x%08x", t.LastDSCR, prsr, edesr)

	if t.DebugReason == ReasonWatchpoint {
		lo, err := t.APB.ReadAtomicU32(ctx, t.DebugBase+debugregs.WFAR0)
		if err != nil {
			return err
		}
		hi, err := t.APB.ReadAtomicU32(ctx, t.DebugBase+debugregs.WFAR1)
		if err != nil {
			return err
		}
		t.Log.Logf(logger.Allow, "aarch64", "watchpoint fault address: 0x%016x", uint64(hi)<<32|uint64(lo))
	}

	if err := t.DPM.Prepare(ctx); err != nil {
		return err
	}

	if err := t.readAllRegisters(ctx); err != nil {
		return err
	}

	if err := t.postEntry(ctx); err != nil {
		return err
	}

	return t.DPM.Finish(ctx)
}

// readAllRegisters drains every GPR via the DPM's DCC-64 path, then PC
// and CPSR through X0, populating the register cache ground truth.
func (t *Target) readAllRegisters(ctx context.Context) error {
	for i := 0; i < NumGPR; i++ {
		v, err := t.DPM.InstrReadDataDCC64(ctx, armasm.MSR_DBGDTR_EL0_Xt(uint32(i)))
		if err != nil {
			return err
		}
		t.Regs.Set(i, v)
	}

	pc, err := t.DPM.InstrReadDataR0_64(ctx, armasm.MRS_Xt_DLR_EL0(0))
	if err != nil {
		return err
	}
	t.Regs.SetPC(pc)

	cpsr, err := t.DPM.InstrReadDataR0(ctx, armasm.MRS_Xt_DSPSR_EL0(0))
	if err != nil {
		return err
	}
	t.Regs.SetCPSR(cpsr)

	// X0 was clobbered twice above as the transfer register for PC and
	// CPSR, so the core's X0 now holds a transfer artefact while the cache
	// holds the architectural value read in the GPR loop. Keep it marked
	// dirty so write-back restores it before the core runs again.
	t.Regs.MarkDirty(0)

	return nil
}

// postEntry clears the sticky error, reads the currently-programmed
// system control register for the target's exception level, and derives
// MMU/cache-enabled flags from it.
func (t *Target) postEntry(ctx context.Context) error {
	if err := t.APB.WriteAtomicU32(ctx, t.DebugBase+debugregs.DRCR, debugregs.DRCR_CSE); err != nil {
		return err
	}

	sctlr, err := t.DPM.InstrReadDataR0(ctx, armasm.SCTLRByEL(t.EL))
	if err != nil {
		return err
	}

	t.SystemControlReg = uint64(sctlr)
	t.SystemControlRegCurr = t.SystemControlReg
	t.MMUEnabled = sctlr&0x1 != 0
	t.ICacheEnabled = sctlr&(1<<12) != 0
	t.DCacheEnabled = sctlr&(1<<2) != 0
	return nil
}

func (t *Target) writebackPC(ctx context.Context, pc uint64) error {
	return t.DPM.InstrWriteDataR0_64(ctx, armasm.MSR_DLR_EL0_Xt(0), pc)
}

func (t *Target) writeSCTLR(ctx context.Context, v uint64) error {
	return t.DPM.InstrWriteDataR0(ctx, sctlrWriteOpcode(t.EL), uint32(v))
}

// sctlrWriteOpcode returns the MSR encoding writing X0 into SCTLR_ELx for
// the given exception level.
func sctlrWriteOpcode(el int) uint32 {
	switch el {
	case 2:
		return 0xd5181000 | (4 << 16)
	case 3:
		return 0xd5181000 | (6 << 16)
	default:
		return 0xd5181000
	}
}

func (t *Target) writebackDirtyRegisters(ctx context.Context) error {
	// Every restore passes through X0, so registers go in descending order
	// and X0 itself is restored last.
	dirty := t.Regs.DirtyIndices()
	for j := len(dirty) - 1; j >= 0; j-- {
		i := dirty[j]
		if err := t.DPM.InstrWriteDataR0_64(ctx, armasm.MOV_Xd_X0(uint32(i)), t.Regs.Get(i)); err != nil {
			return err
		}
		t.Regs.ClearDirty(i)
	}
	return nil
}
