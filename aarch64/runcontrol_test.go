package aarch64

import (
	"context"
	"testing"

	"github.com/jetsetilly/armdap/debugregs"
	"github.com/jetsetilly/armdap/internal/fakedap"
)

func examinedTarget(t *testing.T) (*Target, *fakedap.Core) {
	t.Helper()
	target, core := newTestTarget(t)
	if err := target.Examine(context.Background()); err != nil {
		t.Fatalf("Examine: %v", err)
	}
	return target, core
}

func TestHaltTransitionsToHaltedAndReadsRegisters(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	core.Regs[2] = 0xdead_beef_0000_0001
	core.PC = 0x4000_0100
	core.CPSR = 0x600003c5
	core.Halt()

	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if target.State != Halted {
		t.Fatalf("state = %v, want Halted", target.State)
	}
	if target.DebugReason != ReasonDBGRQ {
		t.Fatalf("debug reason = %v, want ReasonDBGRQ", target.DebugReason)
	}
	if got := target.Regs.Get(2); got != 0xdead_beef_0000_0001 {
		t.Fatalf("X2 = 0x%x, want 0xdeadbeef00000001", got)
	}
	if target.Regs.PC() != 0x4000_0100 {
		t.Fatalf("PC = 0x%x, want 0x40000100", target.Regs.PC())
	}
	if target.Regs.CPSR() != 0x600003c5 {
		t.Fatalf("CPSR = 0x%x, want 0x600003c5", target.Regs.CPSR())
	}
	if target.MMUEnabled {
		t.Fatal("expected MMUEnabled=false for a zero SCTLR reset value")
	}
}

func TestResumeRestoresPCAndInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	core.PC = 0x4000_0200
	core.Halt()
	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	target.Regs.SetScratch(3, 0x1111)

	if err := target.Resume(ctx, true, 0); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if target.State != Running {
		t.Fatalf("state = %v, want Running", target.State)
	}
	if target.Regs.Valid(3) {
		t.Fatal("expected register cache to be invalidated after resume")
	}
	if core.PC != 0x4000_0200 {
		t.Fatalf("core PC after resume = 0x%x, want 0x40000200", core.PC)
	}
	if core.Halted {
		t.Fatal("expected core to be running after resume")
	}
}

func TestResumeUsesSuppliedAddressWhenNotCurrent(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	core.PC = 0x4000_0000
	core.Halt()
	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	if err := target.Resume(ctx, false, 0x4000_1000); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if core.PC != 0x4000_1000 {
		t.Fatalf("core PC after resume = 0x%x, want 0x40001000", core.PC)
	}
}

func TestResumeRejectsWhenNotHalted(t *testing.T) {
	ctx := context.Background()
	target, _ := examinedTarget(t)

	if err := target.Resume(ctx, true, 0); err == nil {
		t.Fatal("expected error resuming a target that is not halted")
	}
}

func TestStepHaltsAgainAfterOneInstruction(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	core.Halt()
	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	core.AutoReHaltOnRestart = true
	if err := target.Step(ctx, true, 0); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if target.State != Halted {
		t.Fatalf("state = %v, want Halted", target.State)
	}
	if target.DebugReason != ReasonBreakpoint {
		t.Fatalf("debug reason = %v, want ReasonBreakpoint", target.DebugReason)
	}
}

func TestHaltDrainsStuckDTRRXViaDPMPrepare(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	core.Regs[2] = 0x1234
	core.Halt()
	// Simulate a DTRRX left full from a previous, aborted transfer: Prepare
	// must drain it via a DCC read and DRCR.CSE before debugEntry proceeds.
	// DTR_TX_FULL is seeded too so the drain's DCC read doesn't block
	// waiting for a TX word the fake core never produces on its own.
	stuckDSCR := uint32(debugregs.DSCR_HALT_MASK | debugregs.DSCR_ITE | debugregs.DSCR_DTR_RX_FULL | debugregs.DSCR_DTR_TX_FULL)
	if err := target.APB.WriteAtomicU32(ctx, target.DebugBase+debugregs.DSCR, stuckDSCR); err != nil {
		t.Fatalf("seed DSCR: %v", err)
	}

	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if target.State != Halted {
		t.Fatalf("state = %v, want Halted", target.State)
	}
	if got := target.Regs.Get(2); got != 0x1234 {
		t.Fatalf("X2 = 0x%x, want 0x1234 (registers must still read correctly after recovery)", got)
	}
}

func TestSMPFanOutHaltsSiblings(t *testing.T) {
	ctx := context.Background()
	primary, primaryCore := examinedTarget(t)
	sibling, siblingCore := examinedTarget(t)

	primary.SMP = true
	primary.Siblings = []*Target{sibling}
	sibling.SMP = true

	primaryCore.Halt()
	siblingCore.Halted = false

	if err := primary.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if sibling.State != Halted {
		t.Fatalf("sibling state = %v, want Halted (fan-out)", sibling.State)
	}
}
