package aarch64

// NumGPR is the count of general-purpose registers (X0-X30) the cache
// tracks. PC and CPSR are held separately since they are never used as
// memory-engine scratch and so never need dirty tracking.
const NumGPR = 31

// RegisterCache mirrors the halted core's register file. Entries are
// filled lazily by debug-entry's full register read and invalidated on
// resume; "dirty" tracks registers this driver clobbered as scratch (X0,
// X1) so the write-back phase can restore them before the core runs again.
type RegisterCache struct {
	regs    [NumGPR]uint64
	valid   [NumGPR]bool
	dirty   [NumGPR]bool
	pc      uint64
	pcValid bool
	cpsr    uint32
}

// Set records a freshly-read register value as valid and clean - used by
// debug-entry, which is the sole writer of ground truth.
func (r *RegisterCache) Set(i int, v uint64) {
	r.regs[i] = v
	r.valid[i] = true
	r.dirty[i] = false
}

// Get returns the cached value of register i. Callers needing a guarantee
// of freshness should check Valid first; within this driver the cache is
// always populated by debug-entry before any read is attempted.
func (r *RegisterCache) Get(i int) uint64 {
	return r.regs[i]
}

// Valid reports whether register i holds a value read from the core since
// the last Invalidate.
func (r *RegisterCache) Valid(i int) bool {
	return r.valid[i]
}

// MarkDirty records that register i was used as engine scratch and must be
// restored before resume. SetScratch should be used instead when the new
// value is also known.
func (r *RegisterCache) MarkDirty(i int) {
	r.dirty[i] = true
}

// SetScratch updates register i's cached value (e.g. after loading an
// address into X1 for a memory transfer) and marks it dirty.
func (r *RegisterCache) SetScratch(i int, v uint64) {
	r.regs[i] = v
	r.dirty[i] = true
}

// Dirty reports whether register i needs writeback before resume.
func (r *RegisterCache) Dirty(i int) bool {
	return r.dirty[i]
}

// ClearDirty marks register i as written back.
func (r *RegisterCache) ClearDirty(i int) {
	r.dirty[i] = false
}

// DirtyIndices returns the indices of every register currently marked
// dirty, in ascending order.
func (r *RegisterCache) DirtyIndices() []int {
	var out []int
	for i := 0; i < NumGPR; i++ {
		if r.dirty[i] {
			out = append(out, i)
		}
	}
	return out
}

// PC returns the cached program counter.
func (r *RegisterCache) PC() uint64 { return r.pc }

// SetPC updates the cached program counter.
func (r *RegisterCache) SetPC(v uint64) { r.pc = v; r.pcValid = true }

// CPSR returns the cached CPSR/PSTATE snapshot.
func (r *RegisterCache) CPSR() uint32 { return r.cpsr }

// SetCPSR updates the cached CPSR/PSTATE snapshot.
func (r *RegisterCache) SetCPSR(v uint32) { r.cpsr = v }

// Invalidate marks every register (including PC) as no-longer-authoritative,
// done on every resume so the next debug-entry performs a full reread.
func (r *RegisterCache) Invalidate() {
	for i := 0; i < NumGPR; i++ {
		r.valid[i] = false
		r.dirty[i] = false
	}
	r.pcValid = false
}
