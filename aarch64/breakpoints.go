package aarch64

import (
	"context"

	"github.com/jetsetilly/armdap/breakpoint"
)

// SetHardBreakpoint, SetSoftBreakpoint, SetContextIDBreakpoint,
// SetHybridBreakpoint and UnsetBreakpoint are the supported entry points
// for arming and disarming breakpoints: each holds mu for the whole
// operation before delegating to Breakpoints, so a concurrent Poll/Halt/
// Resume/Step/memory access on the same Target can't interleave with a
// breakpoint set/unset that is itself reading or writing target memory
// (the soft-breakpoint path does both). Calling t.Breakpoints directly
// bypasses this and is the caller's responsibility to otherwise
// serialise.

func (t *Target) SetHardBreakpoint(ctx context.Context, addr uint64, size int) (*breakpoint.Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Breakpoints.SetHard(ctx, addr, size)
}

func (t *Target) SetSoftBreakpoint(ctx context.Context, addr uint64) (*breakpoint.Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Breakpoints.SetSoft(ctx, addr)
}

func (t *Target) SetContextIDBreakpoint(ctx context.Context, asid uint32) (*breakpoint.Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Breakpoints.SetContextID(ctx, asid)
}

func (t *Target) SetHybridBreakpoint(ctx context.Context, addr uint64, size int, asid uint32) (*breakpoint.Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Breakpoints.SetHybrid(ctx, addr, size, asid)
}

func (t *Target) UnsetBreakpoint(ctx context.Context, bp *breakpoint.Breakpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Breakpoints.Unset(ctx, bp)
}
