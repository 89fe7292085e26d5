package proc

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"testing"

	"kerncore/internal/blockdev"
	"kerncore/internal/config"
	"kerncore/internal/console"
	"kerncore/internal/defs"
	"kerncore/internal/frametab"
	"kerncore/internal/sectorcache"
	"kerncore/internal/swap"
)

// buildEchoImage assembles a minimal valid ELF32 executable, mirroring
// internal/elf32's own test helper, since proc's tests need a loadable
// program to exercise the full process_execute/wait/exit lifecycle.
func buildEchoImage(t *testing.T) []byte {
	t.Helper()
	const ehdrSize = 52
	const phdrSize = 32
	const vaddr = uint32(0x08048000)
	payload := bytes.Repeat([]byte{0x90}, 16)

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0})
	buf.Write(make([]byte, 8))

	write := func(v interface{}) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
	}
	write(uint16(2))
	write(uint16(3))
	write(uint32(1))
	write(vaddr)
	write(uint32(ehdrSize))
	write(uint32(0))
	write(uint32(0))
	write(uint16(ehdrSize))
	write(uint16(phdrSize))
	write(uint16(1))
	write(uint16(0))
	write(uint16(0))
	write(uint16(0))

	const dataOff = uint32(4096)
	write(uint32(1))
	write(dataOff)
	write(vaddr)
	write(vaddr)
	write(uint32(len(payload)))
	write(uint32(len(payload)))
	write(uint32(6))
	write(uint32(4096))

	buf.Write(make([]byte, int(dataOff)-buf.Len()))
	buf.Write(payload)
	return buf.Bytes()
}

func newTestKernel(t *testing.T) (*Kernel, []byte) {
	t.Helper()
	console.SetOutput(&bytes.Buffer{})

	image := buildEchoImage(t)
	cfg := config.Default()
	cfg.UserFrames = 8
	cfg.SwapSlots = 4
	cfg.SectorCacheSlots = 8

	path := t.TempDir() + "/disk.img"
	nsectors := (len(image)+blockdev.SectorSize-1)/blockdev.SectorSize + 4 + cfg.SwapSlots*swap.SectorsPerSlot
	dev, err := blockdev.Open(path, nsectors)
	if err != nil {
		t.Fatalf("blockdev.Open: %v", err)
	}
	t.Cleanup(func() { dev.Close(); os.Remove(path) })

	cache := sectorcache.New(dev, cfg.SectorCacheSlots)
	swapTbl := swap.New(dev, cfg.SwapSlots)
	frames := frametab.New(cfg.UserFrames)

	startSector := cfg.SwapSlots * swap.SectorsPerSlot
	buf := make([]byte, blockdev.SectorSize)
	for i := 0; i*blockdev.SectorSize < len(image); i++ {
		copy(buf, image[i*blockdev.SectorSize:])
		if rem := len(image) - i*blockdev.SectorSize; rem < blockdev.SectorSize {
			for j := rem; j < blockdev.SectorSize; j++ {
				buf[j] = 0
			}
		}
		if err := dev.WriteSector(startSector+i, buf); err != nil {
			t.Fatalf("seed WriteSector: %v", err)
		}
	}

	kern := NewKernel(cfg, cache, swapTbl, frames)
	kern.RegisterProgram("echo", startSector, len(image))
	return kern, image
}

func TestProcessExecuteUnknownProgram(t *testing.T) {
	kern, _ := newTestKernel(t)
	if _, err := kern.ProcessExecute(nil, "nonexistent"); err != defs.ENOENT {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestProcessExecuteAndExitRoot(t *testing.T) {
	kern, _ := newTestKernel(t)
	tid, err := kern.ProcessExecute(nil, "echo x y")
	if err != defs.EOK {
		t.Fatalf("ProcessExecute: %v", err)
	}
	if tid == defs.BadTid {
		t.Fatalf("got BadTid on success")
	}

	k := kern
	k.mu.Lock()
	child, ok := k.procs[tid]
	k.mu.Unlock()
	if !ok {
		t.Fatalf("process not registered in kernel")
	}
	if child.Entry != 0x08048000 {
		t.Fatalf("Entry = %#x, want 0x08048000", child.Entry)
	}

	kern.ProcessExit(child, 0)
	k.mu.Lock()
	_, stillThere := k.procs[tid]
	k.mu.Unlock()
	if stillThere {
		t.Fatalf("process still registered after exit")
	}
}

// TestParentWaitsForChild is spec.md §8 scenario 3/4 exercised through
// the full process_execute/process_wait/process_exit path.
func TestParentWaitsForChild(t *testing.T) {
	kern, _ := newTestKernel(t)
	parentTid, err := kern.ProcessExecute(nil, "echo parent")
	if err != defs.EOK {
		t.Fatalf("ProcessExecute(parent): %v", err)
	}
	kern.mu.Lock()
	parent := kern.procs[parentTid]
	kern.mu.Unlock()

	childTid, err := kern.ProcessExecute(parent, "echo child")
	if err != defs.EOK {
		t.Fatalf("ProcessExecute(child): %v", err)
	}
	kern.mu.Lock()
	child := kern.procs[childTid]
	kern.mu.Unlock()

	done := make(chan struct{})
	var value int
	var waitErr defs.Err_t
	go func() {
		value, waitErr = kern.ProcessWait(context.Background(), parent, childTid)
		close(done)
	}()

	kern.ProcessExit(child, 5)
	<-done

	if waitErr != defs.EOK {
		t.Fatalf("ProcessWait: %v", waitErr)
	}
	if value != 5 {
		t.Fatalf("ProcessWait value = %d, want 5", value)
	}

	// A second wait on the same (now-unlinked) child must fail.
	if _, err := kern.ProcessWait(context.Background(), parent, childTid); err != defs.ENOCHILD {
		t.Fatalf("expected ENOCHILD on repeat wait, got %v", err)
	}
}

// TestParentExitsBeforeChild is spec.md §8 scenario 5: the parent exits
// (and clears its children) before the child does; the child's later
// exit must not panic or block anything.
func TestParentExitsBeforeChild(t *testing.T) {
	kern, _ := newTestKernel(t)
	parentTid, err := kern.ProcessExecute(nil, "echo parent")
	if err != defs.EOK {
		t.Fatalf("ProcessExecute(parent): %v", err)
	}
	kern.mu.Lock()
	parent := kern.procs[parentTid]
	kern.mu.Unlock()

	childTid, err := kern.ProcessExecute(parent, "echo child")
	if err != defs.EOK {
		t.Fatalf("ProcessExecute(child): %v", err)
	}
	kern.mu.Lock()
	child := kern.procs[childTid]
	kern.mu.Unlock()

	kern.ProcessExit(parent, 0)
	// Must not panic or deadlock even though no one will ever wait on it.
	kern.ProcessExit(child, 0)
}

// TestExecFileDenyWriteDuringExec is spec.md scenario 2: a process's own
// exec file must refuse writes for the process's lifetime.
func TestExecFileDenyWriteDuringExec(t *testing.T) {
	kern, _ := newTestKernel(t)
	tid, err := kern.ProcessExecute(nil, "echo x")
	if err != defs.EOK {
		t.Fatalf("ProcessExecute: %v", err)
	}
	kern.mu.Lock()
	child := kern.procs[tid]
	kern.mu.Unlock()

	child.mu.Lock()
	img := child.image
	child.mu.Unlock()
	if img == nil {
		t.Fatalf("expected child.image to be set after successful load")
	}
	if !img.WriteDenied() {
		t.Fatalf("exec file should be write-denied while the process runs")
	}

	kern.ProcessExit(child, 0)
	if img.WriteDenied() {
		t.Fatalf("exec file should be write-allowed again after exit")
	}
}
