// Package execfile models the on-disk ELF image backing a process (the
// GLOSSARY's "Exec file"): a contiguous byte range on the block device,
// read through the sector cache and write-denied for the process's
// lifetime (spec.md §4.4, §6). The real filesystem/inode layer above the
// sector cache is explicitly out of this core's scope (spec.md §1), so a
// File here addresses a fixed sector range directly rather than walking
// an inode — the same simplification the teacher kernel's own
// mkfs/ufs tooling makes when it treats a file as a flat byte stream
// (biscuit/src/mkfs/mkfs.go's copydata/addfiles).
package execfile

import (
	"sync"

	"kerncore/internal/blockdev"
	"kerncore/internal/defs"
	"kerncore/internal/sectorcache"
)

// File is an open handle to an executable image.
type File struct {
	cache       *sectorcache.Cache
	startSector int
	length      int

	mu        sync.Mutex
	denyCount int
}

// Open returns a handle to the length-byte file starting at startSector
// on the device backing cache.
func Open(cache *sectorcache.Cache, startSector, length int) *File {
	return &File{cache: cache, startSector: startSector, length: length}
}

// Length reports the file's size in bytes.
func (f *File) Length() int {
	return f.length
}

// DenyWrite increments the deny-write count, matching the teacher's
// filesys file_deny_write/file_allow_write pairing, which is refcounted
// because a file may be the exec image of several processes.
func (f *File) DenyWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denyCount++
}

// AllowWrite decrements the deny-write count.
func (f *File) AllowWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyCount == 0 {
		panic("execfile: allow_write without matching deny_write")
	}
	f.denyCount--
}

// WriteDenied reports whether writes are currently refused.
func (f *File) WriteDenied() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.denyCount > 0
}

// ReadAt reads len(buf) bytes starting at file offset off, routing each
// sector through the sector cache, and zero-fills any remainder past
// the end of the file so callers never need a short-read branch for the
// "zero the rest" half of spec.md §4.3's file_meta resolution.
func (f *File) ReadAt(buf []byte, off int64) (int, error) {
	n := len(buf)
	start := int(off)
	if start >= f.length {
		for i := range buf {
			buf[i] = 0
		}
		return 0, nil
	}
	avail := f.length - start
	toRead := n
	if toRead > avail {
		toRead = avail
	}
	got := 0
	for got < toRead {
		sector := f.startSector + (start+got)/blockdev.SectorSize
		secOff := (start + got) % blockdev.SectorSize
		chunk := blockdev.SectorSize - secOff
		if chunk > toRead-got {
			chunk = toRead - got
		}
		if err := f.cache.ReadPartial(sector, buf[got:got+chunk], secOff); err != defs.EOK {
			return got, errFromErrT(err)
		}
		got += chunk
	}
	for i := got; i < n; i++ {
		buf[i] = 0
	}
	return got, nil
}

// WriteAt writes len(buf) bytes at file offset off, refusing if the
// file is currently write-denied (spec.md scenario 2).
func (f *File) WriteAt(buf []byte, off int64) (int, error) {
	if f.WriteDenied() {
		return 0, errWriteDenied
	}
	start := int(off)
	if start+len(buf) > f.length {
		return 0, errOutOfRange
	}
	got := 0
	for got < len(buf) {
		sector := f.startSector + (start+got)/blockdev.SectorSize
		secOff := (start + got) % blockdev.SectorSize
		chunk := blockdev.SectorSize - secOff
		if chunk > len(buf)-got {
			chunk = len(buf) - got
		}
		if err := f.cache.WritePartial(sector, buf[got:got+chunk], secOff); err != defs.EOK {
			return got, errFromErrT(err)
		}
		got += chunk
	}
	return got, nil
}

type kernelErr defs.Err_t

func (e kernelErr) Error() string { return "execfile: I/O error" }

func errFromErrT(e defs.Err_t) error {
	if e == defs.EOK {
		return nil
	}
	return kernelErr(e)
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const (
	errWriteDenied sentinelErr = "execfile: write denied"
	errOutOfRange  sentinelErr = "execfile: write out of range"
)
