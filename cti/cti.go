// Package cti wraps the Cross-Trigger Interface register block used to
// halt and restart a core in lock-step with its siblings (specification
// §4.6, "SMP fan-out"). It only carries the register-level primitives -
// unlock, channel configuration, pulse, acknowledge, trigger-status poll -
// the halt/resume state machine in aarch64 sequences them.
package cti

import (
	"context"
	"time"

	"github.com/jetsetilly/armdap/dap"
	"github.com/jetsetilly/armdap/dbgerr"
	"github.com/jetsetilly/armdap/deadline"
	"github.com/jetsetilly/armdap/debugregs"
)

// haltAckTimeout is the 1s bound the specification gives the
// halt-acknowledgement wait (the poll on TROUT_STATUS after pulsing the
// halt channel).
const haltAckTimeout = 1 * time.Second

// CTI is a single core's Cross-Trigger Interface register window.
type CTI struct {
	AP   dap.AP
	Base uint64
}

func New(ap dap.AP, base uint64) *CTI {
	return &CTI{AP: ap, Base: base}
}

func (c *CTI) addr(off uint64) uint64 { return c.Base + off }

// Unlock writes the architecturally fixed unlock value to CTI.LOCKACCESS,
// as done once per core during its first Examine.
func (c *CTI) Unlock(ctx context.Context) error {
	return c.AP.WriteAtomicU32(ctx, c.addr(debugregs.CTI_LOCKACCESS), debugregs.LockAccessUnlockValue)
}

// Configure enables the CTI (CTR=1), opens the given channel gate, and
// wires OUTEN0 to the halt channel and OUTEN1 to the restart channel - the
// fixed routing this driver always uses (channel 0 halts, channel 1
// restarts).
func (c *CTI) Configure(ctx context.Context, gate uint32) error {
	if err := c.AP.WriteAtomicU32(ctx, c.addr(debugregs.CTI_CTR), 1); err != nil {
		return err
	}
	if err := c.AP.WriteAtomicU32(ctx, c.addr(debugregs.CTI_GATE), gate); err != nil {
		return err
	}
	if err := c.AP.WriteAtomicU32(ctx, c.addr(debugregs.CTI_OUTEN0), debugregs.CTIChannelHalt); err != nil {
		return err
	}
	return c.AP.WriteAtomicU32(ctx, c.addr(debugregs.CTI_OUTEN1), debugregs.CTIChannelRestart)
}

// Pulse writes the given channel mask to APPPULSE, triggering either a halt
// (debugregs.CTIChannelHalt) or a restart (debugregs.CTIChannelRestart)
// request to the core.
func (c *CTI) Pulse(ctx context.Context, channelMask uint32) error {
	return c.AP.WriteAtomicU32(ctx, c.addr(debugregs.CTI_APPPULSE), channelMask)
}

// Ack writes CTI.INACK=1, acknowledging a trigger-out event so the CTI can
// accept the next one.
func (c *CTI) Ack(ctx context.Context) error {
	return c.AP.WriteAtomicU32(ctx, c.addr(debugregs.CTI_INTACK), 1)
}

// Status returns the raw TROUT_STATUS register.
func (c *CTI) Status(ctx context.Context) (uint32, error) {
	return c.AP.ReadAtomicU32(ctx, c.addr(debugregs.CTI_TROUT_STATUS))
}

// WaitTriggered polls TROUT_STATUS until it goes non-zero, bounded by bound -
// the wait after pulsing a halt request, per the halt operation's 1s bound.
func (c *CTI) WaitTriggered(ctx context.Context, bound deadline.Deadline) error {
	for {
		v, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if v != 0 {
			return nil
		}
		if bound.Expired() {
			return dbgerr.ErrTimeout("timed out waiting for CTI trigger-out")
		}
	}
}

// Halt is the full halt pulse-and-ack sequence: pulse the halt channel,
// wait for TROUT_STATUS, then acknowledge.
func (c *CTI) Halt(ctx context.Context) error {
	if err := c.Pulse(ctx, debugregs.CTIChannelHalt); err != nil {
		return err
	}
	if err := c.WaitTriggered(ctx, deadline.In(haltAckTimeout)); err != nil {
		return err
	}
	return c.Ack(ctx)
}

// Restart is the acknowledge-then-pulse sequence used by resume: the
// caller acknowledges any outstanding trigger first, then pulses the
// restart channel.
func (c *CTI) Restart(ctx context.Context) error {
	if err := c.Ack(ctx); err != nil {
		return err
	}
	return c.Pulse(ctx, debugregs.CTIChannelRestart)
}
