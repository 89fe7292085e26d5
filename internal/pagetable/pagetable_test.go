package pagetable

import "testing"

func TestPTEPermSurvivesClear(t *testing.T) {
	pte := &PTE{}
	pte.SetBits(PTE_W | PTE_U | PTE_E)
	pte.InstallPresent(0x3000)

	if !pte.Present() || !pte.Writable() || !pte.User() || !pte.IsELF() {
		t.Fatalf("unexpected state after install: %+v", pte)
	}

	pte.Clear()
	if pte.Present() {
		t.Fatalf("Clear left PTE present")
	}
	if !pte.Writable() || !pte.User() || !pte.IsELF() {
		t.Fatalf("Clear destroyed permanent permission bits")
	}
}

func TestPTEDirty(t *testing.T) {
	pte := &PTE{}
	pte.InstallPresent(0x1000)
	if pte.Dirty() {
		t.Fatalf("freshly installed PTE should not be dirty")
	}
	pte.MarkDirty()
	if !pte.Dirty() {
		t.Fatalf("MarkDirty did not set the dirty bit")
	}
	pte.ClearDirty()
	if pte.Dirty() {
		t.Fatalf("ClearDirty did not clear the dirty bit")
	}
}

func TestPTESwapIndexRoundtrip(t *testing.T) {
	pte := &PTE{}
	pte.SetSwapIndex(7)
	if pte.Present() {
		t.Fatalf("SetSwapIndex must leave the PTE not-present")
	}
	if got := pte.SwapIndex(); got != 7 {
		t.Fatalf("SwapIndex() = %d, want 7", got)
	}
}

func TestPageDirWalkCreatesOnce(t *testing.T) {
	pd := NewPageDir()
	if pd.Walk(0x1000, false) != nil {
		t.Fatalf("Walk(create=false) on empty dir should return nil")
	}
	a := pd.Walk(0x1000, true)
	b := pd.Walk(0x1000, true)
	if a != b {
		t.Fatalf("Walk(create=true) allocated two PTEs for the same page")
	}
	// Same page, different offset within it.
	c := pd.Walk(0x1010, true)
	if a != c {
		t.Fatalf("Walk did not round addresses down to the containing page")
	}
}

func TestPageDirUnmapAndPages(t *testing.T) {
	pd := NewPageDir()
	pd.Walk(0x1000, true)
	pd.Walk(0x2000, true)
	if len(pd.Pages()) != 2 {
		t.Fatalf("expected 2 live pages, got %d", len(pd.Pages()))
	}
	pd.Unmap(0x1000)
	pages := pd.Pages()
	if len(pages) != 1 || pages[0] != 0x2000 {
		t.Fatalf("Unmap did not remove the expected page: %v", pages)
	}
	if pd.Walk(0x1000, false) != nil {
		t.Fatalf("Walk after Unmap should return nil")
	}
}
