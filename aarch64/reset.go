package aarch64

import "context"

// AssertReset issues a warm reset through the DAP transport and
// invalidates the register cache: registers are meaningless the instant
// reset is asserted, and the state machine moves to Reset regardless of
// what it was doing beforehand.
func (t *Target) AssertReset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.Port.AssertReset(ctx); err != nil {
		return err
	}
	t.Regs.Invalidate()
	t.State = Reset
	t.DebugReason = ReasonUnknown
	return nil
}

// DeassertReset releases the reset line and polls once to observe
// whatever state the core settles into - Halted if it halts immediately,
// Running otherwise. This collapses the donor's "retry poll until it
// stops erroring" loop into a single poll: a transport error there is a
// transport error here too, not a state to retry past.
func (t *Target) DeassertReset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.Port.DeassertReset(ctx); err != nil {
		return err
	}
	_, err := t.pollLocked(ctx)
	return err
}
