package aarch64

import (
	"context"
	"testing"

	"github.com/jetsetilly/armdap/internal/fakedap"
)

const (
	testDebugBase = 0x8000_0000
	testCTIBase   = 0x8000_1000
	testMemBase   = 0x4000_0000
	testMemSize   = 0x1000
)

func newTestTarget(t *testing.T) (*Target, *fakedap.Core) {
	t.Helper()
	core := fakedap.NewCore(testMemBase, testMemSize)
	port := fakedap.NewPort(core, testDebugBase, testCTIBase)
	return NewTarget(port), core
}

func TestExamineWiresCollaborators(t *testing.T) {
	ctx := context.Background()
	target, core := newTestTarget(t)

	if err := target.Examine(ctx); err != nil {
		t.Fatalf("Examine: %v", err)
	}
	if !target.Examined {
		t.Fatal("expected Examined=true")
	}
	if target.DPM == nil || target.CTI == nil || target.Bank == nil || target.Breakpoints == nil {
		t.Fatal("expected DPM/CTI/Bank/Breakpoints to be wired")
	}
	if target.BRPNum != 16 || target.BRPNumContext != 2 {
		t.Fatalf("BRPNum/BRPNumContext = %d/%d, want 16/2", target.BRPNum, target.BRPNumContext)
	}
	if !target.MemoryAPAvailable || target.AHB == nil {
		t.Fatal("expected AHB-AP to be discovered")
	}
	if target.State != Running {
		t.Fatalf("expected Running after initDebugAccess on a non-halted core, got %v", target.State)
	}
	_ = core
}

func TestExamineWithoutAHBAP(t *testing.T) {
	ctx := context.Background()
	core := fakedap.NewCore(testMemBase, testMemSize)
	port := fakedap.NewPort(core, testDebugBase, testCTIBase)
	port.NoAHB = true
	target := NewTarget(port)

	if err := target.Examine(ctx); err != nil {
		t.Fatalf("Examine: %v", err)
	}
	if target.MemoryAPAvailable || target.AHB != nil {
		t.Fatal("expected no AHB-AP when the port reports none present")
	}
}

func TestExamineOnlyRunsFirstSetupOnce(t *testing.T) {
	ctx := context.Background()
	target, _ := newTestTarget(t)

	if err := target.Examine(ctx); err != nil {
		t.Fatalf("first Examine: %v", err)
	}
	bank := target.Bank
	if err := target.Examine(ctx); err != nil {
		t.Fatalf("second Examine: %v", err)
	}
	if target.Bank != bank {
		t.Fatal("expected second Examine to reuse the existing breakpoint bank, not rebuild it")
	}
}
