package aarch64

import (
	"context"

	"github.com/jetsetilly/armdap/dbgerr"
)

// Mmu reports whether the MMU is currently enabled, per §7's query. It
// requires a halted target: the SCTLR-derived MMUEnabled flag is only
// current as of the last debugEntry, which only runs on a halt.
func (t *Target) Mmu(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State != Halted {
		return false, dbgerr.ErrTargetInvalid("mmu query requires a halted target")
	}
	return t.MMUEnabled, nil
}

// Virt2Phys translates a virtual address to physical, per §7's query. It
// requires a halted target for the same reason Mmu does: the translation
// depends on MMU/table state only known accurately while halted.
func (t *Target) Virt2Phys(ctx context.Context, virt uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State != Halted {
		return 0, dbgerr.ErrTargetInvalid("virt2phys query requires a halted target")
	}
	if t.VirtToPhys != nil {
		return t.VirtToPhys(ctx, virt)
	}
	return virt, nil
}

// ReadPhysMemory and WritePhysMemory bypass virtual-to-physical
// translation entirely: addr is already physical. Per §4.7, physical
// access forces mmu_modify(enable=0) first, regardless of the MMU state
// the core actually halted with.
func (t *Target) ReadPhysMemory(ctx context.Context, addr uint64, size, count int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readPhysMemoryLocked(ctx, addr, size, count)
}

func (t *Target) readPhysMemoryLocked(ctx context.Context, addr uint64, size, count int) ([]byte, error) {
	if t.State != Halted {
		return nil, dbgerr.ErrTargetNotHalted()
	}
	if !validSize(size) {
		return nil, dbgerr.ErrSyntaxError("unsupported memory access size %d", size)
	}
	if err := t.mmuModify(ctx, false); err != nil {
		return nil, err
	}

	length := size * count
	if t.MemoryAPAvailable {
		return t.readPhysAHB(ctx, addr, length)
	}
	return t.readPhysAPB(ctx, addr, length)
}

func (t *Target) WritePhysMemory(ctx context.Context, addr uint64, size, count int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writePhysMemoryLocked(ctx, addr, size, count, data)
}

func (t *Target) writePhysMemoryLocked(ctx context.Context, addr uint64, size, count int, data []byte) error {
	if t.State != Halted {
		return dbgerr.ErrTargetNotHalted()
	}
	if !validSize(size) {
		return dbgerr.ErrSyntaxError("unsupported memory access size %d", size)
	}
	if len(data) != size*count {
		return dbgerr.ErrSyntaxError("buffer length %d does not match size*count (%d*%d)", len(data), size, count)
	}
	if err := t.mmuModify(ctx, false); err != nil {
		return err
	}

	if t.MemoryAPAvailable {
		if err := t.writePhysAHB(ctx, addr, data); err != nil {
			return err
		}
	} else {
		if err := t.writePhysAPB(ctx, addr, data); err != nil {
			return err
		}
	}

	if t.ICacheEnabled || t.DCacheEnabled {
		return t.postWriteCacheMaintenance(ctx, addr, len(data))
	}
	return nil
}
