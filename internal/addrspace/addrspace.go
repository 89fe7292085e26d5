// Package addrspace bundles a process's page directory and supplemental
// page table into the single lockable unit spec.md §3 describes, and
// implements the fault-resolution and teardown data flows of spec.md
// §2's "page fault" and "exit" sequences.
//
// It is grounded on the teacher kernel's vm.Vm_t (biscuit/src/vm/as.go),
// which bundles a Pmap, a Vmregion, and the pgfltaken lock the same way;
// this type plays the same role with this core's SPT/frame-table/swap
// design in place of the teacher's COW-refcounted region model.
package addrspace

import (
	"sync"

	"kerncore/internal/console"
	"kerncore/internal/defs"
	"kerncore/internal/frametab"
	"kerncore/internal/pagetable"
	"kerncore/internal/spt"
	"kerncore/internal/swap"
)

// Space is one process's address space.
type Space struct {
	// mu serializes page-table and SPT mutation, mirroring Vm_t's
	// embedded mutex (biscuit/src/vm/as.go Lock_pmap/Unlock_pmap).
	mu sync.Mutex

	PageDir *pagetable.PageDir
	SPT     *spt.Table

	frames *frametab.Table
	swap   *swap.Table
}

// New creates a fresh address space backed by the given kernel-wide
// frame table and swap table.
func New(frames *frametab.Table, swapTbl *swap.Table) *Space {
	return &Space{
		PageDir: pagetable.NewPageDir(),
		SPT:     spt.Init(),
		frames:  frames,
		swap:    swapTbl,
	}
}

// MapPage allocates (lazily) the PTE for va and registers desc as its
// SPT backing, used by the ELF loader and argument-stack setup to
// register demand-paged pages without allocating a frame yet
// (spec.md §4.4: "No frame is allocated at load time.").
func (s *Space) MapPage(va uintptr, bits pagetable.Pa_t, desc spt.Entry) (*pagetable.PTE, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pte := s.PageDir.Walk(va, true)
	pte.SetBits(bits)
	if !s.SPT.Insert(pte, desc) {
		return nil, defs.EINVAL
	}
	return pte, defs.EOK
}

// Fault resolves a page fault at virtual address va, serialized per-SPT
// so two faults on the same PTE resolve exactly once (spec.md
// "Ordering guarantees").
func (s *Space) Fault(va uintptr) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()

	pte := s.PageDir.Walk(va, false)
	if pte == nil {
		return defs.EFAULT
	}
	if pte.Present() {
		// Two threads simultaneously faulted on the same page; the
		// first resolved it already.
		return defs.EOK
	}
	desc, ok := s.SPT.Lookup(pte)
	if !ok {
		return defs.EFAULT
	}
	return spt.Resolve(pte, va, desc, s, s.frames, s.swap)
}

// FrameBytes returns the live frame memory backing the present page at
// va, for callers (the argument-stack layout code) that need to write
// directly into a page this Space already faulted in.
func (s *Space) FrameBytes(va uintptr) ([]byte, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pte := s.PageDir.Walk(va, false)
	if pte == nil || !pte.Present() {
		return nil, defs.EFAULT
	}
	return s.frames.FrameBytes(pte.Frame()), defs.EOK
}

// Touch marks a present page dirty, standing in for the hardware dirty
// bit a real store instruction would set; callers invoke it after a
// user-mode write actually lands on a mapped page.
func (s *Space) Touch(va uintptr, write bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pte := s.PageDir.Walk(va, false)
	if pte == nil || !pte.Present() {
		return
	}
	if write {
		pte.MarkDirty()
	}
	s.frames.Touch(pte.Frame())
}

// Evict implements frametab.Owner. It is called by the frame table with
// its own lock released, per spec.md §4.2's eviction ordering.
//
// It deliberately does not take s.mu: the frame table may pick this same
// Space's own faulting goroutine's page as its eviction victim (this
// Space is mid-Fault, holding s.mu, asking the frame table for a frame,
// which evicts one of this Space's other pages to free one up), and
// s.mu is not reentrant. PageDir and SPT each carry their own internal
// lock (pagetable.PageDir.mu, spt.Table.mu) and are the only state Evict
// shares with Fault/Touch/MapPage, so omitting s.mu here is safe for
// those; the evicted pte's own fields are touched here without a lock,
// which is sound because a PTE picked for eviction is by construction
// Present and therefore not the target of a concurrent Fault.
func (s *Space) Evict(va uintptr, frame []byte, pte *pagetable.PTE, isMmap bool) defs.Err_t {
	// Step 1: remove the mapping and invalidate the TLB. This process
	// has no live MMU/TLB to shoot down; console.Tracef documents the
	// point in the sequence where a real kernel would issue one,
	// matching the teacher's Tlbshoot call site (biscuit/src/vm/as.go).
	desc, hasDesc := s.SPT.Lookup(pte)
	dirty := pte.Dirty()
	if !isMmap && hasDesc && desc.Kind == spt.KindSwap {
		// Resolve released this page's swap slot when it paged the page
		// back in, so the frame holds the only copy of its contents.
		dirty = true
	}
	pte.Clear()
	console.Tracef("addrspace: tlb shootdown va=%#x\n", va)

	// Steps 2-3: write back if dirty, and rebind the SPT entry to the
	// new backing.
	if dirty {
		if isMmap {
			if hasDesc && desc.Kind == spt.KindFile {
				if _, err := desc.File.WriteAt(frame, int64(desc.Offset)); err != nil {
					return defs.EIO
				}
			}
			// File mapping stays file_meta; it is now clean on disk.
		} else {
			slot, err := s.swap.Alloc()
			if err != defs.EOK {
				return err
			}
			if err := s.swap.Write(slot, frame); err != defs.EOK {
				s.swap.Free(slot)
				return err
			}
			s.SPT.Update(pte, spt.Entry{Kind: spt.KindSwap, SlotIndex: slot})
		}
	}
	// A clean page keeps its SPT entry: a zero-fill page is zero-filled
	// again and a file page is re-read from its file on the next fault.
	return defs.EOK
}

// Destroy releases every frame this address space owns, evicting dirty
// swap slots are released via SPT.Destroy, and then destroys the SPT,
// implementing spec.md §4.5(e)-(f)'s teardown ordering.
func (s *Space) Destroy() {
	s.mu.Lock()
	pages := s.PageDir.Pages()
	var toFree []pagetable.Pa_t
	for _, va := range pages {
		pte := s.PageDir.Walk(va, false)
		if pte != nil && pte.Present() {
			toFree = append(toFree, pte.Frame())
		}
		s.PageDir.Unmap(va)
	}
	s.mu.Unlock()

	s.frames.FreeMultiple(toFree)
	s.SPT.Destroy(s.swap)
}
