// Package dpm implements the Debug Programmer's Model (specification §4.4):
// the opaque operation table an architecture-independent register
// save/restore layer would consume. Every operation here is built
// exclusively from the opcode package's Exec and DCC primitives - the DPM
// adds no register-level state of its own beyond the DSCR it threads
// through a chain of opcodes to preserve the InstrCompl invariant.
package dpm

import (
	"context"

	"github.com/jetsetilly/armdap/armasm"
	"github.com/jetsetilly/armdap/dbgerr"
	"github.com/jetsetilly/armdap/debugregs"
	"github.com/jetsetilly/armdap/opcode"
)

// DPM wraps a single core's opcode.Target with the macro-op table described
// by the specification. X0Dirty, when set, is invoked after any `_r0`
// variant runs: those operations route their transfer through X0, and the
// register cache above this layer must restore it before the core resumes.
type DPM struct {
	Target  opcode.Target
	X0Dirty func()
}

func New(t opcode.Target) *DPM {
	return &DPM{Target: t}
}

func (d *DPM) markX0Dirty() {
	if d.X0Dirty != nil {
		d.X0Dirty()
	}
}

// Prepare is run before any DPM macro-op sequence. It reads DSCR and runs a
// NOP through Exec, seeded with that DSCR, so the opcode pump's own
// 2s-bounded poll waits for InstrCompl; and if DTRRX is found stuck full,
// drains it once and clears the sticky error via DRCR.CSE.
func (d *DPM) Prepare(ctx context.Context) error {
	dscr, err := d.Target.AP.ReadAtomicU32(ctx, d.Target.DebugBase+debugregs.DSCR)
	if err != nil {
		return err
	}

	if err := opcode.Exec(ctx, d.Target, armasm.NOP, &dscr); err != nil {
		return err
	}

	if dscr&debugregs.DSCR_DTR_RX_FULL != 0 {
		if _, err := opcode.ReadDCC32(ctx, d.Target); err != nil {
			return err
		}
		if err := d.Target.AP.WriteAtomicU32(ctx, d.Target.DebugBase+debugregs.DRCR, debugregs.DRCR_CSE); err != nil {
			return err
		}
	}
	return nil
}

// Finish is a no-op placeholder for future stall-mode balancing, matching
// the donor architecture's own DPM contract.
func (d *DPM) Finish(ctx context.Context) error { return nil }

// InstrExecute runs a single opcode with a seeded InstrCompl DSCR, skipping
// the pre-opcode poll.
func (d *DPM) InstrExecute(ctx context.Context, op uint32) error {
	dscr := uint32(debugregs.DSCR_ITE)
	return opcode.Exec(ctx, d.Target, op, &dscr)
}

// InstrWriteDataDCC pushes data across the DCC, then executes op - used
// when op itself reads DTRRX (e.g. a store instruction preceded by a DCC
// read into the source register via MRS earlier in the same macro-op).
func (d *DPM) InstrWriteDataDCC(ctx context.Context, op uint32, data uint32) error {
	if err := opcode.WriteDCC32(ctx, d.Target, data); err != nil {
		return err
	}
	return d.InstrExecute(ctx, op)
}

// InstrWriteDataDCC64 is the 64-bit counterpart of InstrWriteDataDCC.
func (d *DPM) InstrWriteDataDCC64(ctx context.Context, op uint32, data uint64) error {
	if err := opcode.WriteDCC64(ctx, d.Target, data); err != nil {
		return err
	}
	return d.InstrExecute(ctx, op)
}

// InstrWriteDataR0 pushes data across the DCC into X0, then executes op,
// which consumes X0. X0 is marked dirty on success.
func (d *DPM) InstrWriteDataR0(ctx context.Context, op uint32, data uint32) error {
	if err := opcode.WriteDCC32(ctx, d.Target, data); err != nil {
		return err
	}
	if err := d.InstrExecute(ctx, armasm.MRS_X0_DBGDTRRX_EL0); err != nil {
		return err
	}
	if err := d.InstrExecute(ctx, op); err != nil {
		return err
	}
	d.markX0Dirty()
	return nil
}

// InstrWriteDataR0_64 stages data into the 64-bit DBGDTR_EL0 pseudo-register
// via X0, then executes op. X0 is marked dirty on success.
func (d *DPM) InstrWriteDataR0_64(ctx context.Context, op uint32, data uint64) error {
	if err := opcode.WriteDCC64(ctx, d.Target, data); err != nil {
		return err
	}
	if err := d.InstrExecute(ctx, armasm.MRS_Xt_DBGDTR_EL0(0)); err != nil {
		return err
	}
	if err := d.InstrExecute(ctx, op); err != nil {
		return err
	}
	d.markX0Dirty()
	return nil
}

// InstrReadDataDCC executes op (which writes DTRTX), then drains the DCC.
func (d *DPM) InstrReadDataDCC(ctx context.Context, op uint32) (uint32, error) {
	if err := d.InstrExecute(ctx, op); err != nil {
		return 0, err
	}
	return opcode.ReadDCC32(ctx, d.Target)
}

// InstrReadDataDCC64 is the 64-bit counterpart of InstrReadDataDCC.
func (d *DPM) InstrReadDataDCC64(ctx context.Context, op uint32) (uint64, error) {
	if err := d.InstrExecute(ctx, op); err != nil {
		return 0, err
	}
	return opcode.ReadDCC64(ctx, d.Target)
}

// InstrReadDataR0 executes op (which writes X0), moves X0 out to DTRTX, and
// drains the DCC. X0 is marked dirty since op may have clobbered it.
func (d *DPM) InstrReadDataR0(ctx context.Context, op uint32) (uint32, error) {
	if err := d.InstrExecute(ctx, op); err != nil {
		return 0, err
	}
	if err := d.InstrExecute(ctx, armasm.MSR_DBGDTRTX_EL0_Xt(0)); err != nil {
		return 0, err
	}
	d.markX0Dirty()
	return opcode.ReadDCC32(ctx, d.Target)
}

// InstrReadDataR0_64 is the 64-bit counterpart of InstrReadDataR0.
func (d *DPM) InstrReadDataR0_64(ctx context.Context, op uint32) (uint64, error) {
	if err := d.InstrExecute(ctx, op); err != nil {
		return 0, err
	}
	if err := d.InstrExecute(ctx, armasm.MSR_DBGDTR_EL0_Xt(0)); err != nil {
		return 0, err
	}
	d.markX0Dirty()
	return opcode.ReadDCC64(ctx, d.Target)
}

// InstrCPSRSync executes DSB SY to flush after modifying execution state.
func (d *DPM) InstrCPSRSync(ctx context.Context) error {
	return d.InstrExecute(ctx, armasm.DSB_SY)
}

// slotAddr returns the VR and CR addresses for breakpoint/watchpoint slot i
// (0-15 = BVR/BCR, 16-31 = WVR/WCR with the index biased by -16), each bank
// using a 16-byte stride.
func slotAddr(i int) (vr, cr uint64, err error) {
	switch {
	case i >= 0 && i < 16:
		off := uint64(i) * debugregs.BRPWRPStride
		return debugregs.DBGBVR0 + off, debugregs.DBGBCR0 + off, nil
	case i >= 16 && i < 32:
		off := uint64(i-16) * debugregs.BRPWRPStride
		return debugregs.DBGWVR0 + off, debugregs.DBGWCR0 + off, nil
	default:
		return 0, 0, dbgerr.ErrSyntaxError("invalid breakpoint/watchpoint slot index %d", i)
	}
}

// BpwpEnable writes VR then CR for slot i, arming a hardware
// breakpoint/watchpoint.
func (d *DPM) BpwpEnable(ctx context.Context, i int, addr uint64, ctrl uint32) error {
	vr, cr, err := slotAddr(i)
	if err != nil {
		return err
	}
	base := d.Target.DebugBase
	if err := d.Target.AP.WriteAtomicU32(ctx, base+vr, uint32(addr)); err != nil {
		return err
	}
	if err := d.Target.AP.WriteAtomicU32(ctx, base+vr+4, uint32(addr>>32)); err != nil {
		return err
	}
	return d.Target.AP.WriteAtomicU32(ctx, base+cr, ctrl)
}

// BpwpDisable writes 0 to the control register of slot i, disarming it.
// The value register is left untouched: it carries no enable semantics of
// its own and rewriting it would cost an extra, unnecessary transaction.
func (d *DPM) BpwpDisable(ctx context.Context, i int) error {
	_, cr, err := slotAddr(i)
	if err != nil {
		return err
	}
	return d.Target.AP.WriteAtomicU32(ctx, d.Target.DebugBase+cr, 0)
}
