package aarch64

import (
	"context"
	"testing"
)

func TestAssertResetInvalidatesCacheAndSetsState(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	core.Regs[2] = 0xdead_beef
	core.PC = 0x4000_0100
	core.Halt()
	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	if err := target.AssertReset(ctx); err != nil {
		t.Fatalf("AssertReset: %v", err)
	}
	if target.State != Reset {
		t.Fatalf("state = %v, want Reset", target.State)
	}
	if target.Regs.Valid(2) {
		t.Fatal("expected register cache to be invalidated by AssertReset")
	}
	if core.Regs[2] != 0 || core.PC != 0 {
		t.Fatalf("expected core architectural state to be cleared, got x2=0x%x pc=0x%x", core.Regs[2], core.PC)
	}
}

func TestDeassertResetPollsIntoRunning(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	if err := target.AssertReset(ctx); err != nil {
		t.Fatalf("AssertReset: %v", err)
	}
	if err := target.DeassertReset(ctx); err != nil {
		t.Fatalf("DeassertReset: %v", err)
	}
	if target.State != Running {
		t.Fatalf("state = %v, want Running", target.State)
	}
	_ = core
}

func TestDeassertResetObservesImmediateHalt(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	if err := target.AssertReset(ctx); err != nil {
		t.Fatalf("AssertReset: %v", err)
	}
	core.Halt()
	if err := target.DeassertReset(ctx); err != nil {
		t.Fatalf("DeassertReset: %v", err)
	}
	if target.State != Halted {
		t.Fatalf("state = %v, want Halted", target.State)
	}
}
