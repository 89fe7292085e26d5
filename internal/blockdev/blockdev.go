// Package blockdev implements the byte-addressable block device the
// sector cache is the sole caller of (spec.md §6). It is grounded on the
// teacher kernel's fs.Disk_i interface (biscuit/src/fs/blk.go), adapted
// from an async request-queue abstraction to a synchronous file-backed
// device using golang.org/x/sys/unix's Pread/Pwrite, since this core has
// no AHCI driver of its own (out of scope per spec.md §1) and needs a
// concrete, real backing store to exercise the sector cache against.
package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SectorSize is the fixed unit of block-device I/O (spec.md GLOSSARY).
const SectorSize = 512

// Device is a synchronous, byte-addressable block device backed by a
// regular file, addressed in fixed SectorSize units.
type Device struct {
	f        *os.File
	nsectors int
}

// Open opens (or creates) a file of the given sector count as a block
// device backing store.
func Open(path string, nsectors int) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	sz := int64(nsectors) * SectorSize
	if err := f.Truncate(sz); err != nil {
		f.Close()
		return nil, err
	}
	return &Device{f: f, nsectors: nsectors}, nil
}

// NumSectors reports the device's capacity in sectors.
func (d *Device) NumSectors() int {
	return d.nsectors
}

// ReadSector reads exactly one SectorSize-byte sector into buf.
func (d *Device) ReadSector(sector int, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector < 0 || sector >= d.nsectors {
		return fmt.Errorf("blockdev: sector %d out of range", sector)
	}
	off := int64(sector) * SectorSize
	n, err := unix.Pread(int(d.f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return fmt.Errorf("blockdev: short read %d/%d", n, SectorSize)
	}
	return nil
}

// WriteSector writes exactly one SectorSize-byte sector from buf.
func (d *Device) WriteSector(sector int, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector < 0 || sector >= d.nsectors {
		return fmt.Errorf("blockdev: sector %d out of range", sector)
	}
	off := int64(sector) * SectorSize
	n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return fmt.Errorf("blockdev: short write %d/%d", n, SectorSize)
	}
	return nil
}

// Close releases the underlying file.
func (d *Device) Close() error {
	return d.f.Close()
}
