package aarch64

import "github.com/jetsetilly/armdap/dbgerr"

// coreByIndex resolves the flat core-selector index used by SelectGDBCore
// and the console's smp_gdb command: 0 is this Target itself, i+1 is
// Siblings[i].
func (t *Target) coreByIndex(n int) (*Target, error) {
	if n == 0 {
		return t, nil
	}
	i := n - 1
	if i < 0 || i >= len(t.Siblings) {
		return nil, dbgerr.ErrSyntaxError("core index %d out of range", n)
	}
	return t.Siblings[i], nil
}

// SelectGDBCore requests that the SMP group's gdb-facing core switch to
// index n on the next Resume/Poll pair. The switch itself moves no
// hardware - it only changes which core's halt the next synthetic event
// reports, mirroring the donor's gdb_service.core[1]/core[0] dance
// ("maint packet J core_id" followed by a continue).
func (t *Target) SelectGDBCore(n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, err := t.coreByIndex(n)
	if err != nil {
		return err
	}
	t.pendingGDBSwitch = target
	t.activeGDBCore = nil
	return nil
}

// ActiveGDBCore returns the core a GDB session is currently bound to,
// defaulting to t itself when no switch has ever been requested or one
// is still in flight.
func (t *Target) ActiveGDBCore() *Target {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activeGDBCore == nil {
		return t
	}
	return t.activeGDBCore
}
