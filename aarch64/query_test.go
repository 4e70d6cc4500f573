package aarch64

import (
	"bytes"
	"context"
	"testing"

	"github.com/jetsetilly/armdap/dbgerr"
)

func TestMmuRequiresHalted(t *testing.T) {
	ctx := context.Background()
	target, _ := examinedTarget(t)

	if _, err := target.Mmu(ctx); dbgerr.Code(err) != dbgerr.TargetInvalid {
		t.Fatalf("err = %v, want TargetInvalid", err)
	}
}

func TestMmuReportsCachedState(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	core.SCTLR = 1 // SCTLR.M
	core.Halt()
	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	enabled, err := target.Mmu(ctx)
	if err != nil {
		t.Fatalf("Mmu: %v", err)
	}
	if !enabled {
		t.Fatal("expected Mmu to report enabled when SCTLR.M is set")
	}
}

func TestVirt2PhysRequiresHalted(t *testing.T) {
	ctx := context.Background()
	target, _ := examinedTarget(t)

	if _, err := target.Virt2Phys(ctx, 0x1000); dbgerr.Code(err) != dbgerr.TargetInvalid {
		t.Fatalf("err = %v, want TargetInvalid", err)
	}
}

func TestVirt2PhysDefaultsToIdentity(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	core.Halt()
	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	phys, err := target.Virt2Phys(ctx, 0x4000_0100)
	if err != nil {
		t.Fatalf("Virt2Phys: %v", err)
	}
	if phys != 0x4000_0100 {
		t.Fatalf("phys = 0x%x, want identity 0x40000100", phys)
	}
}

func TestVirt2PhysUsesHook(t *testing.T) {
	ctx := context.Background()
	target, core := examinedTarget(t)

	target.VirtToPhys = func(ctx context.Context, virt uint64) (uint64, error) {
		return virt + 0x1000, nil
	}
	core.Halt()
	if err := target.Halt(ctx); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	phys, err := target.Virt2Phys(ctx, 0x4000_0000)
	if err != nil {
		t.Fatalf("Virt2Phys: %v", err)
	}
	if phys != 0x4000_1000 {
		t.Fatalf("phys = 0x%x, want 0x40001000", phys)
	}
}

func TestReadWritePhysMemoryRoundTripAHB(t *testing.T) {
	ctx := context.Background()
	target, core := haltedTarget(t, false)
	core.SCTLR = 1 // MMU on at halt, so WritePhysMemory must force it off first
	target.MMUEnabled = true

	data := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	addr := uint64(testMemBase + 0x60)
	if err := target.WritePhysMemory(ctx, addr, 4, 1, data); err != nil {
		t.Fatalf("WritePhysMemory: %v", err)
	}
	if target.MMUEnabled {
		t.Fatal("expected mmuModify(false) to have cleared MMUEnabled")
	}

	got, err := target.ReadPhysMemory(ctx, addr, 4, 1)
	if err != nil {
		t.Fatalf("ReadPhysMemory: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back %x, want %x", got, data)
	}
}

func TestReadWritePhysMemoryRoundTripAPB(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, true)

	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	addr := uint64(testMemBase + 0x200)
	if err := target.WritePhysMemory(ctx, addr, 4, 2, data); err != nil {
		t.Fatalf("WritePhysMemory: %v", err)
	}

	got, err := target.ReadPhysMemory(ctx, addr, 4, 2)
	if err != nil {
		t.Fatalf("ReadPhysMemory: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back %x, want %x", got, data)
	}
}

func TestWritePhysMemoryRejectsBadSize(t *testing.T) {
	ctx := context.Background()
	target, _ := haltedTarget(t, false)

	err := target.WritePhysMemory(ctx, testMemBase, 3, 1, []byte{1, 2, 3})
	if dbgerr.Code(err) != dbgerr.SyntaxError {
		t.Fatalf("err = %v, want SyntaxError", err)
	}
}
