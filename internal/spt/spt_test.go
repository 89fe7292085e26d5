package spt

import (
	"os"
	"testing"

	"kerncore/internal/blockdev"
	"kerncore/internal/defs"
	"kerncore/internal/execfile"
	"kerncore/internal/frametab"
	"kerncore/internal/pagetable"
	"kerncore/internal/sectorcache"
	"kerncore/internal/swap"
)

// fakeOwner is a no-op frametab.Owner for tests that never trigger eviction.
type fakeOwner struct{}

func (fakeOwner) Evict(va uintptr, frame []byte, pte *pagetable.PTE, isMmap bool) defs.Err_t {
	return defs.EOK
}

func TestInsertRejectsDuplicate(t *testing.T) {
	tab := Init()
	pte := &pagetable.PTE{}
	if !tab.Insert(pte, Entry{Kind: KindZero}) {
		t.Fatalf("first Insert should succeed")
	}
	if tab.Insert(pte, Entry{Kind: KindZero}) {
		t.Fatalf("second Insert of the same PTE should fail")
	}
}

func TestUpdateOverwrites(t *testing.T) {
	tab := Init()
	pte := &pagetable.PTE{}
	tab.Insert(pte, Entry{Kind: KindZero})
	tab.Update(pte, Entry{Kind: KindSwap, SlotIndex: 3})
	got, ok := tab.Lookup(pte)
	if !ok || got.Kind != KindSwap || got.SlotIndex != 3 {
		t.Fatalf("Update did not take effect: %+v", got)
	}
}

func TestResolveZeroFill(t *testing.T) {
	frames := frametab.New(2)
	pte := &pagetable.PTE{}
	err := Resolve(pte, 0x1000, Entry{Kind: KindZero}, fakeOwner{}, frames, nil)
	if err != defs.EOK {
		t.Fatalf("Resolve: %v", err)
	}
	if !pte.Present() {
		t.Fatalf("Resolve(KindZero) did not install the PTE present")
	}
}

func newSwapTestTable(t *testing.T, nslots int) *swap.Table {
	t.Helper()
	path := t.TempDir() + "/swap.img"
	dev, err := blockdev.Open(path, nslots*swap.SectorsPerSlot)
	if err != nil {
		t.Fatalf("blockdev.Open: %v", err)
	}
	t.Cleanup(func() { dev.Close(); os.Remove(path) })
	return swap.New(dev, nslots)
}

func TestResolveSwapFreesSlotAfterLoad(t *testing.T) {
	swapTbl := newSwapTestTable(t, 2)
	idx, err := swapTbl.Alloc()
	if err != defs.EOK {
		t.Fatalf("Alloc: %v", err)
	}
	page := make([]byte, pagetable.PageSize)
	for i := range page {
		page[i] = 0x11
	}
	if err := swapTbl.Write(idx, page); err != defs.EOK {
		t.Fatalf("Write: %v", err)
	}

	frames := frametab.New(1)
	pte := &pagetable.PTE{}
	if err := Resolve(pte, 0x2000, Entry{Kind: KindSwap, SlotIndex: idx}, fakeOwner{}, frames, swapTbl); err != defs.EOK {
		t.Fatalf("Resolve: %v", err)
	}
	if !pte.Present() {
		t.Fatalf("Resolve(KindSwap) did not install the PTE present")
	}
	if swapTbl.IsAllocated(idx) {
		t.Fatalf("Resolve(KindSwap) should free the slot once paged back in")
	}
}

func TestResolveFileReadsThroughCache(t *testing.T) {
	path := t.TempDir() + "/img.bin"
	dev, err := blockdev.Open(path, 8)
	if err != nil {
		t.Fatalf("blockdev.Open: %v", err)
	}
	defer dev.Close()
	defer os.Remove(path)

	cache := sectorcache.New(dev, 4)
	file := execfile.Open(cache, 0, pagetable.PageSize)
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i)
	}
	if _, err := file.WriteAt(content, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	frames := frametab.New(1)
	pte := &pagetable.PTE{}
	desc := Entry{Kind: KindFile, File: file, Offset: 0, ReadBytes: len(content)}
	if err := Resolve(pte, 0x3000, desc, fakeOwner{}, frames, nil); err != defs.EOK {
		t.Fatalf("Resolve: %v", err)
	}
	if !pte.Present() {
		t.Fatalf("Resolve(KindFile) did not install the PTE present")
	}
	frame := frames.FrameBytes(pte.Frame())
	if frame[0] != 0 || frame[99] != 99 {
		t.Fatalf("file contents not loaded into frame correctly")
	}
	for i := 100; i < pagetable.PageSize; i++ {
		if frame[i] != 0 {
			t.Fatalf("frame byte %d past read_bytes not zeroed: %#x", i, frame[i])
		}
	}
}

func TestDestroyFreesSwapSlots(t *testing.T) {
	swapTbl := newSwapTestTable(t, 2)
	idx, _ := swapTbl.Alloc()

	tab := Init()
	pte := &pagetable.PTE{}
	tab.Insert(pte, Entry{Kind: KindSwap, SlotIndex: idx})
	tab.Destroy(swapTbl)

	if swapTbl.IsAllocated(idx) {
		t.Fatalf("Destroy did not free the swap slot")
	}
	if tab.Len() != 0 {
		t.Fatalf("Destroy did not clear the table")
	}
}
