package opcode_test

import (
	"context"
	"testing"

	"github.com/jetsetilly/armdap/dbgerr"
	"github.com/jetsetilly/armdap/debugregs"
	"github.com/jetsetilly/armdap/opcode"
)

// scriptedAP is a minimal dap.AP that answers DSCR reads from a queue and
// records every ITR write. It exists to drive opcode.Exec through its poll
// loops deterministically - internal/fakedap is a full core simulator and
// overkill for exercising the pump in isolation. Addresses are matched by
// their offset within the 4KB debug register block, so the tests' debug
// base does not matter.
type scriptedAP struct {
	dscrQueue []uint32
	itrWrites []uint32
	regs      map[uint64]uint32
}

func newScriptedAP(dscrQueue ...uint32) *scriptedAP {
	return &scriptedAP{dscrQueue: dscrQueue, regs: make(map[uint64]uint32)}
}

func (s *scriptedAP) nextDSCR() uint32 {
	if len(s.dscrQueue) == 0 {
		return debugregs.DSCR_ITE
	}
	v := s.dscrQueue[0]
	if len(s.dscrQueue) > 1 {
		s.dscrQueue = s.dscrQueue[1:]
	}
	return v
}

func (s *scriptedAP) ReadAtomicU32(ctx context.Context, addr uint64) (uint32, error) {
	addr &= 0xFFF
	if addr == debugregs.DSCR {
		return s.nextDSCR(), nil
	}
	return s.regs[addr], nil
}

func (s *scriptedAP) WriteAtomicU32(ctx context.Context, addr uint64, val uint32) error {
	addr &= 0xFFF
	if addr == debugregs.ITR {
		s.itrWrites = append(s.itrWrites, val)
	}
	s.regs[addr] = val
	return nil
}

func (s *scriptedAP) ReadU32(ctx context.Context, addr uint64) (uint32, error) {
	return s.ReadAtomicU32(ctx, addr)
}
func (s *scriptedAP) WriteU32(ctx context.Context, addr uint64, val uint32) error {
	return s.WriteAtomicU32(ctx, addr, val)
}
func (s *scriptedAP) ReadBuf(ctx context.Context, addr uint64, buf []uint32) error  { return nil }
func (s *scriptedAP) WriteBuf(ctx context.Context, addr uint64, buf []uint32) error { return nil }
func (s *scriptedAP) ReadBufNoIncr(ctx context.Context, addr uint64, buf []uint32) error {
	return nil
}
func (s *scriptedAP) WriteBufNoIncr(ctx context.Context, addr uint64, buf []uint32) error {
	return nil
}

func TestExecSkipsFirstPollWhenDSCRAlreadyComplete(t *testing.T) {
	ap := newScriptedAP(debugregs.DSCR_ITE)
	tgt := opcode.Target{AP: ap, DebugBase: 0x8000_0000}

	dscr := uint32(debugregs.DSCR_ITE)
	if err := opcode.Exec(context.Background(), tgt, 0xd503201f, (*uint32)(&dscr)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ap.itrWrites) != 1 || ap.itrWrites[0] != 0xd503201f {
		t.Fatalf("expected single ITR write of the NOP opcode, got %v", ap.itrWrites)
	}
}

func TestExecPollsUntilInstrCompl(t *testing.T) {
	ap := newScriptedAP(0, 0, debugregs.DSCR_ITE, debugregs.DSCR_ITE)
	tgt := opcode.Target{AP: ap, DebugBase: 0x8000_0000}

	var dscr uint32
	if err := opcode.Exec(context.Background(), tgt, 0xd503201f, &dscr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dscr&debugregs.DSCR_ITE == 0 {
		t.Fatalf("expected returned dscr to have InstrCompl set, got 0x%x", dscr)
	}
}

func TestExecTimesOutWhenInstrComplNeverSets(t *testing.T) {
	ap := newScriptedAP(0)
	tgt := opcode.Target{AP: ap, DebugBase: 0x8000_0000}

	var dscr uint32
	err := opcode.Exec(context.Background(), tgt, 0xd503201f, &dscr)
	if !dbgerr.Is(err, dbgerr.Timeout) {
		t.Fatalf("expected a Timeout error, got %v", err)
	}
}

func TestDCC32RoundTrip(t *testing.T) {
	ap := newScriptedAP(0, debugregs.DSCR_DTR_TX_FULL)
	tgt := opcode.Target{AP: ap, DebugBase: 0x8000_0000}

	if err := opcode.WriteDCC32(context.Background(), tgt, 0xcafef00d); err != nil {
		t.Fatalf("unexpected error writing DCC: %v", err)
	}
	if ap.regs[debugregs.DTRRX] != 0xcafef00d {
		t.Fatalf("expected DTRRX to hold written word, got 0x%x", ap.regs[debugregs.DTRRX])
	}

	ap.regs[debugregs.DTRTX] = 0x12345678
	v, err := opcode.ReadDCC32(context.Background(), tgt)
	if err != nil {
		t.Fatalf("unexpected error reading DCC: %v", err)
	}
	if v != 0x12345678 {
		t.Fatalf("expected 0x12345678, got 0x%x", v)
	}
}

func TestDCC64RoundTrip(t *testing.T) {
	ap := newScriptedAP(0)
	tgt := opcode.Target{AP: ap, DebugBase: 0x8000_0000}

	if err := opcode.WriteDCC64(context.Background(), tgt, 0x1122334455667788); err != nil {
		t.Fatalf("unexpected error writing 64-bit DCC: %v", err)
	}
	if ap.regs[debugregs.DTRRX] != 0x55667788 || ap.regs[debugregs.DTRTX] != 0x11223344 {
		t.Fatalf("expected low word in DTRRX and high word in DTRTX, got DTRRX=0x%x DTRTX=0x%x",
			ap.regs[debugregs.DTRRX], ap.regs[debugregs.DTRTX])
	}

	ap.dscrQueue = []uint32{debugregs.DSCR_DTR_TX_FULL}
	ap.regs[debugregs.DTRRX] = 0xaaaaaaaa
	ap.regs[debugregs.DTRTX] = 0xbbbbbbbb
	got, err := opcode.ReadDCC64(context.Background(), tgt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint64(0xbbbbbbbb)<<32 | uint64(0xaaaaaaaa)
	if got != want {
		t.Fatalf("expected 0x%x, got 0x%x", want, got)
	}
}
