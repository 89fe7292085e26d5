// Package swap manages the fixed set of swap slots that anonymous pages
// evicted from the frame table are written to (spec.md §3, §4.2). It is
// grounded on the teacher kernel's reference-counted physical-page
// allocator (biscuit/src/mem/mem.go Physmem_t's freelist), adapted from a
// refcounted free list to a plain bitmap since swap slots, unlike
// physical frames, are never shared between processes (spec.md §1
// Non-goals: "no copy-on-write or shared-memory sharing between
// processes").
package swap

import (
	"sync"

	"kerncore/internal/blockdev"
	"kerncore/internal/defs"
)

// SectorsPerSlot is how many device sectors back one swap-slot-sized
// page.
const SectorsPerSlot = 4096 / blockdev.SectorSize

// Table is the swap-slot bitmap allocator and its backing device.
type Table struct {
	mu   sync.Mutex
	used []bool
	dev  *blockdev.Device
}

// New creates a swap table of the given slot count backed by dev, whose
// capacity must be at least nslots*SectorsPerSlot sectors.
func New(dev *blockdev.Device, nslots int) *Table {
	return &Table{used: make([]bool, nslots), dev: dev}
}

// Alloc reserves a free slot and returns its index.
func (t *Table) Alloc() (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, inUse := range t.used {
		if !inUse {
			t.used[i] = true
			return i, defs.EOK
		}
	}
	return -1, defs.ENOMEM
}

// Free releases a previously allocated slot. Freeing an already-free
// slot is a bug in the caller and panics, matching the teacher kernel's
// XXXPANIC convention for invariant violations that cannot be recovered.
func (t *Table) Free(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.used[idx] {
		panic("swap: double free of slot")
	}
	t.used[idx] = false
}

// IsAllocated reports whether idx is currently reserved. It exists so
// SPT.Destroy and tests can check the "swap slot is marked allocated in
// the swap bitmap" invariant from spec.md §8.
func (t *Table) IsAllocated(idx int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used[idx]
}

// Write stores a full page (PageSize bytes) at the given slot.
func (t *Table) Write(idx int, page []byte) defs.Err_t {
	if len(page) != SectorsPerSlot*blockdev.SectorSize {
		return defs.EINVAL
	}
	for i := 0; i < SectorsPerSlot; i++ {
		sec := idx*SectorsPerSlot + i
		off := i * blockdev.SectorSize
		if err := t.dev.WriteSector(sec, page[off:off+blockdev.SectorSize]); err != nil {
			return defs.EIO
		}
	}
	return defs.EOK
}

// Read loads a full page from the given slot into page.
func (t *Table) Read(idx int, page []byte) defs.Err_t {
	if len(page) != SectorsPerSlot*blockdev.SectorSize {
		return defs.EINVAL
	}
	for i := 0; i < SectorsPerSlot; i++ {
		sec := idx*SectorsPerSlot + i
		off := i * blockdev.SectorSize
		if err := t.dev.ReadSector(sec, page[off:off+blockdev.SectorSize]); err != nil {
			return defs.EIO
		}
	}
	return defs.EOK
}

// Count returns the number of currently allocated slots, for checking
// spec.md §8's "swap slots owned by it is zero" invariant after
// teardown.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, u := range t.used {
		if u {
			n++
		}
	}
	return n
}
