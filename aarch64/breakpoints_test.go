package aarch64

import (
	"context"
	"testing"

	"github.com/jetsetilly/armdap/breakpoint"
)

func TestSetHardBreakpointThenUnset(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, false)

	bp, err := target.SetHardBreakpoint(ctx, testMemBase+0x200, 4)
	if err != nil {
		t.Fatalf("SetHardBreakpoint: %v", err)
	}
	if bp.Type != breakpoint.Hard {
		t.Fatalf("Type = %v, want breakpoint.Hard", bp.Type)
	}
	if err := target.UnsetBreakpoint(ctx, bp); err != nil {
		t.Fatalf("UnsetBreakpoint: %v", err)
	}
}

func TestSetSoftBreakpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, false)

	addr := uint64(testMemBase + 0x300)
	if err := target.WriteWord(ctx, addr, 0xAABBCCDD); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}

	bp, err := target.SetSoftBreakpoint(ctx, addr)
	if err != nil {
		t.Fatalf("SetSoftBreakpoint: %v", err)
	}
	if bp.Type != breakpoint.Soft {
		t.Fatalf("Type = %v, want breakpoint.Soft", bp.Type)
	}

	if err := target.UnsetBreakpoint(ctx, bp); err != nil {
		t.Fatalf("UnsetBreakpoint: %v", err)
	}
	got, err := target.ReadWord(ctx, addr)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0xAABBCCDD {
		t.Fatalf("ReadWord after unset = 0x%x, want original instruction restored", got)
	}
}

func TestSetContextIDBreakpoint(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, false)

	bp, err := target.SetContextIDBreakpoint(ctx, 0x42)
	if err != nil {
		t.Fatalf("SetContextIDBreakpoint: %v", err)
	}
	if bp.Type != breakpoint.ContextID {
		t.Fatalf("Type = %v, want breakpoint.ContextID", bp.Type)
	}
}

func TestSetHybridBreakpoint(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, false)

	bp, err := target.SetHybridBreakpoint(ctx, testMemBase+0x400, 4, 0x7)
	if err != nil {
		t.Fatalf("SetHybridBreakpoint: %v", err)
	}
	if bp.Type != breakpoint.Hybrid {
		t.Fatalf("Type = %v, want breakpoint.Hybrid", bp.Type)
	}
}

func TestSetHardBreakpointExhaustsBank(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, false)

	for i := 0; i < target.BRPNum; i++ {
		if _, err := target.SetHardBreakpoint(ctx, testMemBase+uint64(i*4), 4); err != nil {
			t.Fatalf("SetHardBreakpoint #%d: %v", i, err)
		}
	}
	if _, err := target.SetHardBreakpoint(ctx, testMemBase+0x1000, 4); err == nil {
		t.Fatal("expected an error once every slot in the bank is in use")
	}
}
