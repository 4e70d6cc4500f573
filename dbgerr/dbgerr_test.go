package dbgerr_test

import (
	"fmt"
	"testing"

	"github.com/jetsetilly/armdap/dbgerr"
)

func TestDuplicateMessageParts(t *testing.T) {
	e := dbgerr.Newf(dbgerr.Fail, "opcode pump: %s", "timeout")
	if e.Error() != "opcode pump: timeout" {
		t.Errorf("unexpected message: %q", e.Error())
	}

	// wrapping the same curated error should not repeat its head
	f := dbgerr.Newf(dbgerr.Fail, "opcode pump: %s", e)
	if f.Error() != "opcode pump: timeout" {
		t.Errorf("expected de-duplicated message, got %q", f.Error())
	}
}

func TestCodeRecovery(t *testing.T) {
	cases := []struct {
		err  error
		code dbgerr.ErrCode
	}{
		{dbgerr.ErrTargetNotHalted(), dbgerr.TargetNotHalted},
		{dbgerr.ErrResourceUnavailable("no free slot"), dbgerr.ResourceUnavailable},
		{dbgerr.ErrSyntaxError("bad size %d", 3), dbgerr.SyntaxError},
		{dbgerr.ErrTimeout("waiting for %s", "InstrCompl"), dbgerr.Timeout},
		{fmt.Errorf("plain error"), dbgerr.Fail},
		{nil, dbgerr.Ok},
	}

	for _, c := range cases {
		if got := dbgerr.Code(c.err); got != c.code {
			t.Errorf("Code(%v) = %v, want %v", c.err, got, c.code)
		}
	}
}

func TestIs(t *testing.T) {
	e := dbgerr.ErrResourceUnavailable("brp bank full")
	if !dbgerr.Is(e, dbgerr.ResourceUnavailable) {
		t.Errorf("expected Is to match ResourceUnavailable")
	}
	if dbgerr.Is(e, dbgerr.Timeout) {
		t.Errorf("did not expect Is to match Timeout")
	}
}
