package aarch64

import (
	"context"
	"testing"
)

func TestSelectGDBCoreCompletesOnNextResumeAndPoll(t *testing.T) {
	ctx := context.Background()
	primary, primaryCore := examinedTarget(t)
	sibling, _ := examinedTarget(t)

	primary.SMP = true
	primary.Siblings = []*Target{sibling}
	sibling.SMP = true

	primaryCore.Halt()
	if err := primary.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	sibling.State = Halted

	if err := primary.SelectGDBCore(1); err != nil {
		t.Fatalf("SelectGDBCore: %v", err)
	}
	if got := primary.ActiveGDBCore(); got != primary {
		t.Fatal("expected ActiveGDBCore to still report primary while the switch is in flight")
	}

	// Resume while a switch is pending must be a dummy resume: no hardware
	// state changes, the core stays halted.
	if err := primary.Resume(ctx, true, 0); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if primary.State != Halted {
		t.Fatalf("state = %v, want Halted (dummy resume must not touch hardware)", primary.State)
	}
	if !primaryCore.Halted {
		t.Fatal("expected underlying core to remain halted across a dummy resume")
	}

	state, err := primary.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if state != Halted {
		t.Fatalf("state after poll = %v, want Halted", state)
	}
	if got := primary.ActiveGDBCore(); got != sibling {
		t.Fatalf("ActiveGDBCore after switch completes = %v, want sibling", got)
	}
}

func TestSelectGDBCoreRejectsOutOfRangeIndex(t *testing.T) {
	target, _ := examinedTarget(t)
	if err := target.SelectGDBCore(1); err == nil {
		t.Fatal("expected error selecting a core with no siblings configured")
	}
}

func TestActiveGDBCoreDefaultsToSelf(t *testing.T) {
	target, _ := examinedTarget(t)
	if got := target.ActiveGDBCore(); got != target {
		t.Fatal("expected ActiveGDBCore to default to the target itself")
	}
}
