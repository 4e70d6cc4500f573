package aarch64

import (
	"bytes"
	"context"
	"testing"

	"github.com/jetsetilly/armdap/dbgerr"
	"github.com/jetsetilly/armdap/internal/fakedap"
)

func haltedTarget(t *testing.T, noAHB bool) (*Target, *fakedap.Core) {
	t.Helper()
	core := fakedap.NewCore(testMemBase, testMemSize)
	port := fakedap.NewPort(core, testDebugBase, testCTIBase)
	port.NoAHB = noAHB
	target := NewTarget(port)

	ctx := context.Background()
	if err := target.Examine(ctx); err != nil {
		t.Fatalf("Examine: %v", err)
	}
	core.Halt()
	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	return target, core
}

func TestReadWriteMemoryAHBRoundTrip(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, false)

	data := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	if err := target.WriteMemory(ctx, testMemBase+0x10, 4, 2, data); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}

	got, err := target.ReadMemory(ctx, testMemBase+0x10, 4, 2)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back %x, want %x", got, data)
	}
}

func TestReadWriteMemoryAHBUnaligned(t *testing.T) {
	ctx := context.Background()
	target, core := haltedTarget(t, false)

	// prime surrounding memory so the unaligned write's read-modify-write
	// doesn't clobber neighbours
	for i := range core.Mem {
		core.Mem[i] = 0xAA
	}

	data := []byte{0x01, 0x02, 0x03}
	addr := uint64(testMemBase + 0x21) // not 4-aligned
	if err := target.WriteMemory(ctx, addr, 1, 3, data); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}

	got, err := target.ReadMemory(ctx, addr, 1, 3)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back %x, want %x", got, data)
	}
	// byte immediately before/after the written range must be untouched
	if core.Mem[0x20] != 0xAA || core.Mem[0x24] != 0xAA {
		t.Fatalf("unaligned write clobbered neighbouring bytes: %x", core.Mem[0x1c:0x28])
	}
}

func TestReadWriteMemoryAPBPath(t *testing.T) {
	ctx := context.Background()
	target, core := haltedTarget(t, true)
	if target.MemoryAPAvailable {
		t.Fatal("expected APB-only target")
	}

	data := []byte{0xde, 0xad, 0xbe, 0xef}
	addr := uint64(testMemBase + 0x40)
	if err := target.WriteMemory(ctx, addr, 4, 1, data); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}

	idx := addr - testMemBase
	if !bytes.Equal(core.Mem[idx:idx+4], data) {
		t.Fatalf("core memory = %x, want %x", core.Mem[idx:idx+4], data)
	}

	got, err := target.ReadMemory(ctx, addr, 4, 1)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back %x, want %x", got, data)
	}
}

func TestWriteMemoryRunsCacheMaintenanceWhenEnabled(t *testing.T) {
	ctx := context.Background()
	core := fakedap.NewCore(testMemBase, testMemSize)
	port := fakedap.NewPort(core, testDebugBase, testCTIBase)
	target := NewTarget(port)

	if err := target.Examine(ctx); err != nil {
		t.Fatalf("Examine: %v", err)
	}
	core.SCTLR = (1 << 12) | (1 << 2) // I-cache and D-cache on, MMU off
	core.Halt()
	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if !target.ICacheEnabled || !target.DCacheEnabled {
		t.Fatal("expected cache-enabled flags to be derived from SCTLR")
	}

	before := core.OpcodeErrors
	if err := target.WriteMemory(ctx, testMemBase+0x80, 4, 4, make([]byte, 16)); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	if core.OpcodeErrors != before {
		t.Fatalf("cache maintenance issued an opcode the fake core didn't recognise: %d new errors", core.OpcodeErrors-before)
	}
}

func TestReadMemoryRequiresHalted(t *testing.T) {
	ctx := context.Background()
	target, _ := newTestTarget(t)
	if err := target.Examine(ctx); err != nil {
		t.Fatalf("Examine: %v", err)
	}

	_, err := target.ReadMemory(ctx, testMemBase, 4, 1)
	if dbgerr.Code(err) != dbgerr.TargetNotHalted {
		t.Fatalf("err = %v, want TargetNotHalted", err)
	}
}

func TestReadMemoryRejectsBadSize(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, false)

	_, err := target.ReadMemory(ctx, testMemBase, 3, 1)
	if dbgerr.Code(err) != dbgerr.SyntaxError {
		t.Fatalf("err = %v, want SyntaxError", err)
	}
}

func TestWriteMemoryAPBUsesBulk32PathAndStreamsThroughMA(t *testing.T) {
	ctx := context.Background()
	target, core := haltedTarget(t, true)

	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}
	addr := uint64(testMemBase + 0x80)
	if err := target.WriteMemory(ctx, addr, 4, 2, data); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}

	idx := addr - testMemBase
	if !bytes.Equal(core.Mem[idx:idx+8], data) {
		t.Fatalf("core memory = %x, want %x (bulk MA-mode path did not land in memory)", core.Mem[idx:idx+8], data)
	}
}

func TestWriteMemoryAPB64PathForAddressesBeyond32Bit(t *testing.T) {
	ctx := context.Background()
	const base64 = uint64(1) << 32
	core := fakedap.NewCore(base64, 0x1000)
	port := fakedap.NewPort(core, testDebugBase, testCTIBase)
	port.NoAHB = true
	target := NewTarget(port)

	ctx2 := context.Background()
	if err := target.Examine(ctx2); err != nil {
		t.Fatalf("Examine: %v", err)
	}
	core.Halt()
	if err := target.Halt(ctx2); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	data := []byte{0x11, 0x22, 0x33, 0x44}
	addr := base64 + 0x10
	if err := target.WriteMemory(ctx, addr, 4, 1, data); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}

	idx := addr - base64
	if !bytes.Equal(core.Mem[idx:idx+4], data) {
		t.Fatalf("core memory = %x, want %x (64-bit instruction-replay path)", core.Mem[idx:idx+4], data)
	}

	got, err := target.ReadMemory(ctx, addr, 4, 1)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back %x, want %x", got, data)
	}
}

func TestBreakpointMemoryInterfaceRoundTrip(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, false)

	if err := target.WriteWord(ctx, testMemBase+0x100, 0x12345678); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	got, err := target.ReadWord(ctx, testMemBase+0x100)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0x12345678 {
		t.Fatalf("ReadWord = 0x%x, want 0x12345678", got)
	}
}
