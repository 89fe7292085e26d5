// Package spt implements the supplemental page table described in
// spec.md §4.3: the per-process map from a PTE to a tagged backing
// descriptor (file segment, swap slot, or zero-fill), consulted to
// resolve a page fault.
//
// It is grounded on the teacher kernel's hashtable.Hashtable_t
// (biscuit/src/hashtable/hashtable.go), a lock-free-read bucketed hash
// table, redesigned as a plain mutex-guarded Go map keyed by *PTE
// pointer identity (spec.md §4.3: "keyed by PTE address") since this
// core's SPT is accessed far less often than the teacher's general
// kernel hash table and does not need its lock-free read path.
package spt

import (
	"sync"

	"kerncore/internal/defs"
	"kerncore/internal/execfile"
	"kerncore/internal/frametab"
	"kerncore/internal/pagetable"
	"kerncore/internal/swap"
)

// Kind tags which backing descriptor an Entry holds.
type Kind int

const (
	KindFile Kind = iota
	KindSwap
	KindZero
)

// Entry is the tagged backing descriptor spec.md §3 describes.
type Entry struct {
	Kind Kind

	// file_meta
	File      *execfile.File
	Offset    int
	ReadBytes int

	// swap_slot
	SlotIndex int
}

// Table is one process's supplemental page table.
type Table struct {
	mu      sync.Mutex
	entries map[*pagetable.PTE]Entry
}

// Init allocates an empty SPT, per spec.md §4.3's init(spt).
func Init() *Table {
	return &Table{entries: make(map[*pagetable.PTE]Entry)}
}

// Insert records desc as the backing descriptor for pte. It returns
// false if pte already had an entry, since spec.md §3 forbids two SPT
// entries referencing the same page; callers that intend to overwrite
// an existing mapping (e.g. eviction installing a fresh swap_slot over
// a stale file_meta) use Update instead.
func (s *Table) Insert(pte *pagetable.PTE, desc Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[pte]; exists {
		return false
	}
	s.entries[pte] = desc
	return true
}

// Update overwrites (or creates) the descriptor for pte, used by
// eviction to rebind a page to its new backing (spec.md §4.2 step 3).
func (s *Table) Update(pte *pagetable.PTE, desc Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[pte] = desc
}

// Lookup returns the descriptor for pte, if any.
func (s *Table) Lookup(pte *pagetable.PTE) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pte]
	return e, ok
}

// Remove deletes the entry for pte, if present.
func (s *Table) Remove(pte *pagetable.PTE) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, pte)
}

// Destroy walks every entry, returning swap slots to swapTbl. Frames
// backing still-present pages are the caller's responsibility to free
// (the address space teardown sequence in spec.md §4.5(e)-(f) frees
// frames before destroying the SPT); Destroy only reclaims backing
// store that is solely the SPT's to own.
func (s *Table) Destroy(swapTbl *swap.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pte, e := range s.entries {
		if e.Kind == KindSwap && swapTbl.IsAllocated(e.SlotIndex) {
			swapTbl.Free(e.SlotIndex)
		}
		delete(s.entries, pte)
	}
}

// Len reports the number of live entries, used by tests checking
// teardown left nothing behind.
func (s *Table) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Resolve services a page fault per spec.md §4.3's lookup-at-fault-time
// semantics: it allocates a frame via frames, populates it according to
// desc's kind, and installs the PTE present, preserving software bits.
func Resolve(pte *pagetable.PTE, va uintptr, desc Entry, owner frametab.Owner,
	frames *frametab.Table, swapTbl *swap.Table) defs.Err_t {

	flags := frametab.FlagUser
	switch desc.Kind {
	case KindFile:
		pa, buf, err := frames.GetPage(flags, owner, va, pte)
		if err != defs.EOK {
			return err
		}
		n, rerr := desc.File.ReadAt(buf[:desc.ReadBytes], int64(desc.Offset))
		if rerr != nil || n != desc.ReadBytes {
			frames.FreePage(pa)
			return defs.EIO
		}
		for i := desc.ReadBytes; i < len(buf); i++ {
			buf[i] = 0
		}
		pte.InstallPresent(pa)
		frames.Touch(pa)
		return defs.EOK

	case KindSwap:
		pa, buf, err := frames.GetPage(flags, owner, va, pte)
		if err != defs.EOK {
			return err
		}
		if err := swapTbl.Read(desc.SlotIndex, buf); err != defs.EOK {
			frames.FreePage(pa)
			return err
		}
		swapTbl.Free(desc.SlotIndex)
		pte.InstallPresent(pa)
		frames.Touch(pa)
		return defs.EOK

	case KindZero:
		pa, _, err := frames.GetPage(flags|frametab.FlagZero, owner, va, pte)
		if err != defs.EOK {
			return err
		}
		pte.InstallPresent(pa)
		frames.Touch(pa)
		return defs.EOK

	default:
		return defs.EINVAL
	}
}
