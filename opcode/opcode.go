// Package opcode implements the Opcode Pump (specification §4.2) and the
// DCC Channel built on top of it (§4.3). Every higher layer - the DPM, the
// memory access engine - executes target instructions exclusively through
// Exec, and moves data across the Debug Communications Channel exclusively
// through the Write/Read DCC helpers here.
package opcode

import (
	"context"
	"time"

	"github.com/jetsetilly/armdap/dap"
	"github.com/jetsetilly/armdap/dbgerr"
	"github.com/jetsetilly/armdap/deadline"
	"github.com/jetsetilly/armdap/debugregs"
)

// Bounded-poll deadlines, fixed by the specification's concurrency model
// (§5): 2s for the pre-opcode InstrCompl wait, 1s for the post-opcode wait
// and for DCC fullness polls.
const (
	PreOpTimeout  = 2 * time.Second
	PostOpTimeout = 1 * time.Second
)

// Target is the minimal surface Exec needs: a single atomic register
// window onto one core's external debug block.
type Target struct {
	AP        dap.AP
	DebugBase uint64
}

func (t Target) addr(off uint64) uint64 { return t.DebugBase + off }

func (t Target) readDSCR(ctx context.Context) (uint32, error) {
	return t.AP.ReadAtomicU32(ctx, t.addr(debugregs.DSCR))
}

// Exec is the Opcode Pump primitive. If dscr is non-nil and already shows
// InstrCompl set, the first poll is skipped - this is what lets a chain of
// DPM macro-op opcodes avoid re-reading DSCR between every instruction.
// Otherwise it polls DSCR until InstrCompl is set, bounded by 2s. It then
// writes opcode to ITR, and polls DSCR for InstrCompl again, bounded by 1s.
// On return *dscr holds the last DSCR value read, which has InstrCompl set
// on success - the architectural invariant every DPM operation preserves.
func Exec(ctx context.Context, t Target, opcode uint32, dscr *uint32) error {
	var cur uint32
	skipFirstPoll := false
	if dscr != nil {
		cur = *dscr
		skipFirstPoll = cur&debugregs.DSCR_ITE != 0
	}

	if !skipFirstPoll {
		d := deadline.In(PreOpTimeout)
		for {
			v, err := t.readDSCR(ctx)
			if err != nil {
				return err
			}
			cur = v
			if cur&debugregs.DSCR_ITE != 0 {
				break
			}
			if d.Expired() {
				return dbgerr.ErrTimeout("timed out waiting for InstrCompl before opcode 0x%08x", opcode)
			}
		}
	}

	if err := t.AP.WriteAtomicU32(ctx, t.addr(debugregs.ITR), opcode); err != nil {
		return err
	}

	d := deadline.In(PostOpTimeout)
	for {
		v, err := t.readDSCR(ctx)
		if err != nil {
			return err
		}
		cur = v
		if cur&debugregs.DSCR_ITE != 0 {
			break
		}
		if d.Expired() {
			return dbgerr.ErrTimeout("timed out waiting for InstrCompl after opcode 0x%08x", opcode)
		}
	}

	if dscr != nil {
		*dscr = cur
	}
	return nil
}

// pollRxNotFull waits until DTRRX is empty (the target has consumed the
// previous host->target word), bounded by PostOpTimeout.
func (t Target) pollRxNotFull(ctx context.Context) error {
	d := deadline.In(PostOpTimeout)
	for {
		dscr, err := t.readDSCR(ctx)
		if err != nil {
			return err
		}
		if dscr&debugregs.DSCR_DTR_RX_FULL == 0 {
			return nil
		}
		if d.Expired() {
			return dbgerr.ErrTimeout("timed out waiting for DTRRX to empty")
		}
	}
}

// pollTxFull waits until DTRTX holds a word the target has produced,
// bounded by PostOpTimeout.
func (t Target) pollTxFull(ctx context.Context) error {
	d := deadline.In(PostOpTimeout)
	for {
		dscr, err := t.readDSCR(ctx)
		if err != nil {
			return err
		}
		if dscr&debugregs.DSCR_DTR_TX_FULL != 0 {
			return nil
		}
		if d.Expired() {
			return dbgerr.ErrTimeout("timed out waiting for DTRTX to fill")
		}
	}
}

// WriteDCC32 pushes a single 32-bit word to the target across the Debug
// Communications Channel. The caller is responsible for having already
// primed the target side to consume it (normally an instr_write_data_dcc
// macro-op queued through the DPM).
func WriteDCC32(ctx context.Context, t Target, data uint32) error {
	if err := t.pollRxNotFull(ctx); err != nil {
		return err
	}
	return t.AP.WriteAtomicU32(ctx, t.addr(debugregs.DTRRX), data)
}

// ReadDCC32 drains a single 32-bit word the target has pushed across the
// DCC.
func ReadDCC32(ctx context.Context, t Target) (uint32, error) {
	if err := t.pollTxFull(ctx); err != nil {
		return 0, err
	}
	return t.AP.ReadAtomicU32(ctx, t.addr(debugregs.DTRTX))
}

// WriteDCC64 pushes a 64-bit value to the DBGDTR_EL0 pseudo-register: the
// low word through DTRRX, the high word through DTRTX - the fixed pairing
// the architecture gives that register's 64-bit MSR/MRS encodings
// (armasm.MSR_DBGDTR_EL0_Xt, armasm.MRS_Xt_DBGDTR_EL0).
func WriteDCC64(ctx context.Context, t Target, data uint64) error {
	if err := t.pollRxNotFull(ctx); err != nil {
		return err
	}
	if err := t.AP.WriteAtomicU32(ctx, t.addr(debugregs.DTRRX), uint32(data)); err != nil {
		return err
	}
	return t.AP.WriteAtomicU32(ctx, t.addr(debugregs.DTRTX), uint32(data>>32))
}

// ReadDCC64 drains a 64-bit DBGDTR_EL0 value: the low word from DTRRX, the
// high word from DTRTX.
func ReadDCC64(ctx context.Context, t Target) (uint64, error) {
	if err := t.pollTxFull(ctx); err != nil {
		return 0, err
	}
	lo, err := t.AP.ReadAtomicU32(ctx, t.addr(debugregs.DTRRX))
	if err != nil {
		return 0, err
	}
	hi, err := t.AP.ReadAtomicU32(ctx, t.addr(debugregs.DTRTX))
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}
