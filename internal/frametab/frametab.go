// Package frametab implements the kernel-wide frame table and allocator
// (spec.md §4.2): a dense registry of physical user frames, an allocator
// that hands them out, and a clock (second-chance) eviction policy that
// reclaims them under pressure.
//
// It is grounded on the teacher kernel's mem.Physmem_t (biscuit/src/mem/
// mem.go), which is also a dense array of per-frame metadata
// (Physpg_t{Refcnt, nexti, Cpumask}) guarded by a process-wide sync.Mutex
// with a free list threaded through the array. This core drops
// reference counting (no copy-on-write or shared mappings, spec.md §1
// Non-goals) in favor of a single-owner-per-frame model with an explicit
// Owner callback for eviction, since the teacher's eviction policy lives
// in a different, unretrieved file (mem/pgcache or similar) than the one
// this pack captured.
package frametab

import (
	"sync"

	"kerncore/internal/defs"
	"kerncore/internal/pagetable"
)

// PageSize matches pagetable.PageSize; frames are simulated physical
// memory, since this core is a demonstration of the lifecycle/VM logic
// rather than a driver for a live MMU.
const PageSize = pagetable.PageSize

// Flags requested from Get_page, mirroring spec.md §4.2's
// { panic-on-failure, zero-fill, user, mmap } set.
type Flags int

const (
	FlagPanic Flags = 1 << iota
	FlagZero
	FlagUser
	FlagMmap
)

// Owner is implemented by whatever holds a frame (a process's address
// space) so the frame table can evict its pages without importing the
// process/SPT packages, which would create an import cycle back into
// frametab.
type Owner interface {
	// Evict is invoked with the frame-table lock released. It must
	// remove the mapping for va from the owner's page directory,
	// invalidate the TLB entry, and — if the page is dirty — write its
	// contents back to the appropriate backing store (a swap slot for
	// anonymous pages, the file via the sector cache for mmap pages)
	// and update the owner's SPT entry to reflect the new backing,
	// per spec.md §4.2 steps 1-3. frame is the live frame memory; pte
	// is the PTE previously installed by Get_page's caller.
	Evict(va uintptr, frame []byte, pte *pagetable.PTE, isMmap bool) defs.Err_t
}

type entry struct {
	owner    Owner
	va       uintptr
	pte      *pagetable.PTE
	mmap     bool
	accessed bool
}

// Table is the kernel-wide frame table and allocator.
type Table struct {
	mu      sync.Mutex
	frames  [][]byte
	entries []entry
	free    []int
	hand    int
}

// New allocates a frame table with capacity frames of user memory.
func New(capacity int) *Table {
	if capacity <= 0 {
		panic("frametab: capacity must be positive")
	}
	t := &Table{
		frames:  make([][]byte, capacity),
		entries: make([]entry, capacity),
		free:    make([]int, capacity),
	}
	for i := range t.frames {
		t.frames[i] = make([]byte, PageSize)
		t.free[i] = capacity - 1 - i
	}
	return t
}

// Capacity returns the total number of frames in the pool.
func (t *Table) Capacity() int {
	return len(t.frames)
}

// pa encodes a frame index as a physical address one page past its
// index, so that physical address 0 never denotes a live frame (it is
// reserved, as in the teacher kernel, for "no frame"/zero-page
// sentinels).
func pa(idx int) pagetable.Pa_t {
	return pagetable.Pa_t(idx+1) << pagetable.PGSHIFT
}

func idxOf(p pagetable.Pa_t) int {
	return int(p>>pagetable.PGSHIFT) - 1
}

// FrameBytes returns the kernel-addressable memory backing a physical
// address previously returned by GetPage, analogous to the teacher
// kernel's mem.Physmem_t.Dmap.
func (t *Table) FrameBytes(p pagetable.Pa_t) []byte {
	return t.frames[idxOf(p)]
}

// Owned reports the owner and PTE currently on record for a frame, for
// checking spec.md §8's "exactly one FTE" invariant.
func (t *Table) Owned(p pagetable.Pa_t) (Owner, *pagetable.PTE, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[idxOf(p)]
	return e.owner, e.pte, e.owner != nil
}

// Touch marks a frame as recently accessed, standing in for the
// hardware accessed bit the clock algorithm consults; callers touch a
// frame each time a resolved page fault or explicit access occurs.
func (t *Table) Touch(p pagetable.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[idxOf(p)].accessed = true
}

// GetPage allocates a frame and atomically records owner's PTE as the
// frame's occupant (spec.md §4.2). On pressure it runs clock eviction;
// if that also fails and FlagPanic is set, it panics (matching the
// teacher's FRM_ASSERT convention for a kernel out-of-memory condition).
func (t *Table) GetPage(flags Flags, owner Owner, va uintptr, pte *pagetable.PTE) (pagetable.Pa_t, []byte, defs.Err_t) {
	t.mu.Lock()
	idx, err := t.allocLocked()
	if err != defs.EOK {
		t.mu.Unlock()
		if flags&FlagPanic != 0 {
			panic("frametab: out of memory")
		}
		return 0, nil, defs.ENOMEM
	}
	t.entries[idx] = entry{owner: owner, va: va, pte: pte, mmap: flags&FlagMmap != 0, accessed: true}
	t.mu.Unlock()

	frame := t.frames[idx]
	if flags&FlagZero != 0 {
		for i := range frame {
			frame[i] = 0
		}
	}
	return pa(idx), frame, defs.EOK
}

// allocLocked must be called with t.mu held. It pops a free frame or, if
// none remain, runs the clock eviction sweep.
func (t *Table) allocLocked() (int, defs.Err_t) {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		return idx, defs.EOK
	}
	return t.evictLocked()
}

// evictLocked runs the second-chance clock sweep described in spec.md
// §4.2. It releases t.mu while the victim's owner performs writeback
// I/O and re-validates nothing else needs to change, since the victim
// slot remains reserved (not on the free list) for the duration.
func (t *Table) evictLocked() (int, defs.Err_t) {
	n := len(t.entries)
	for tries := 0; tries < 2*n+1; tries++ {
		idx := t.hand
		t.hand = (t.hand + 1) % n
		e := &t.entries[idx]
		if e.owner == nil {
			continue
		}
		if e.accessed {
			e.accessed = false
			continue
		}
		owner, va, pte, mmap := e.owner, e.va, e.pte, e.mmap
		frame := t.frames[idx]

		t.mu.Unlock()
		err := owner.Evict(va, frame, pte, mmap)
		t.mu.Lock()
		if err != defs.EOK {
			return 0, err
		}
		t.entries[idx] = entry{}
		return idx, defs.EOK
	}
	return 0, defs.ENOMEM
}

// FreePage returns a frame to the pool. The caller must already have
// unmapped the page from every page directory that referenced it
// (spec.md §4.2 invariant: "no FTE with a live owner is ever freed").
func (t *Table) FreePage(p pagetable.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := idxOf(p)
	if t.entries[idx].owner == nil {
		panic("frametab: double free")
	}
	t.entries[idx] = entry{}
	t.free = append(t.free, idx)
}

// Occupancy reports the number of frames currently owned versus free,
// used by internal/diag's snapshot.
func (t *Table) Occupancy() (live, free int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.owner != nil {
			live++
		}
	}
	return live, len(t.entries) - live
}

// FreeMultiple frees a batch of frames at once.
func (t *Table) FreeMultiple(pages []pagetable.Pa_t) {
	for _, p := range pages {
		t.FreePage(p)
	}
}
