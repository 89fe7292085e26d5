// Package elf32 validates an ELF32 executable image and registers its
// PT_LOAD segments as demand-paged mappings, per spec.md §4.4.
//
// It is grounded on the teacher kernel's own use of the standard
// library's debug/elf package (biscuit/src/kernel/chentry.go's chkELF),
// which already validates an ELF header's magic/class/machine fields
// the same shape this package needs. This package takes debug/elf's
// type, machine, and segment-type constants, but decodes the raw 52-byte
// ELF header and 32-byte program headers itself with encoding/binary.
package elf32

import (
	"debug/elf"
	"encoding/binary"
	"io"

	"kerncore/internal/addrspace"
	"kerncore/internal/config"
	"kerncore/internal/defs"
	"kerncore/internal/execfile"
	"kerncore/internal/pagetable"
	"kerncore/internal/spt"
)

// pageSize and pageMask mirror pagetable's page geometry without
// importing it solely for two constants used throughout this file.
const (
	pageSize = pagetable.PageSize
	pageMask = pagetable.PGOFFSET
)

// want ELF identification bytes, per spec.md §4.4: "\x7fELF\x01\x01\x01".
var identMagic = [7]byte{0x7f, 'E', 'L', 'F', 1, 1, 1}

// Image is the result of a successful Load: the entry point and initial
// stack pointer the caller installs into the new thread's register
// state, per process.c's load() out-parameters *eip/*esp.
type Image struct {
	Entry uint32
	Esp   uint32
}

// Load validates file as an ELF32 executable, registers every PT_LOAD
// segment into space as a file-backed (KindFile) SPT entry without
// allocating any frames, faults in the single zero-filled stack page at
// PHYS_BASE-PAGE_SIZE, and denies further writes to file for the caller
// to release at process exit.
//
// The returned Image.Esp is PHYS_BASE itself, the empty stack's top;
// internal/procexec.PushArgv lays the argument vector out below it
// before the caller resumes the thread in user mode.
func Load(file *execfile.File, space *addrspace.Space, cfg *config.Config) (Image, defs.Err_t) {
	file.DenyWrite()

	hdr, err := readEhdr(file)
	if err != defs.EOK {
		file.AllowWrite()
		return Image{}, err
	}

	if hdr.Phnum > uint16(cfg.MaxPhdrs) {
		file.AllowWrite()
		return Image{}, defs.EBADELF
	}

	off := int64(hdr.Phoff)
	for i := 0; i < int(hdr.Phnum); i++ {
		phdr, rerr := readPhdr(file, off, int(hdr.Phentsize))
		if rerr != defs.EOK {
			file.AllowWrite()
			return Image{}, rerr
		}
		off += int64(hdr.Phentsize)

		switch elf.ProgType(phdr.Type) {
		case elf.PT_NULL, elf.PT_NOTE, elf.PT_PHDR:
			// Ignored, per spec.md §4.4.
		case progTypeStack:
			// Ignored: this core synthesizes its own stack segment
			// rather than trusting one named in the image.
		case elf.PT_DYNAMIC, elf.PT_INTERP, elf.PT_SHLIB:
			file.AllowWrite()
			return Image{}, defs.EBADELF
		case elf.PT_LOAD:
			if err := registerLoadSegment(space, file, phdr); err != defs.EOK {
				file.AllowWrite()
				return Image{}, err
			}
		default:
			// Unrecognized segment types are ignored, matching
			// process.c's load() default case.
		}
	}

	esp, err := setupStack(space)
	if err != defs.EOK {
		file.AllowWrite()
		return Image{}, err
	}

	return Image{Entry: hdr.Entry, Esp: esp}, defs.EOK
}

// progTypeStack is PT_STACK (0x6474e551 per the GNU/ELF extension),
// which debug/elf does not name as a elf.ProgType constant.
const progTypeStack = elf.ProgType(0x6474e551)

type ehdr32 struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type phdr32 struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

func readEhdr(file *execfile.File) (ehdr32, defs.Err_t) {
	var buf [52]byte
	n, rerr := file.ReadAt(buf[:], 0)
	if rerr != nil || n != len(buf) {
		return ehdr32{}, defs.EBADELF
	}
	var h ehdr32
	if err := binary.Read(sliceReader(buf[:]), binary.LittleEndian, &h); err != nil {
		return ehdr32{}, defs.EBADELF
	}
	if h.Ident[0] != identMagic[0] || h.Ident[1] != identMagic[1] ||
		h.Ident[2] != identMagic[2] || h.Ident[3] != identMagic[3] ||
		h.Ident[4] != identMagic[4] || h.Ident[5] != identMagic[5] ||
		h.Ident[6] != identMagic[6] {
		return ehdr32{}, defs.EBADELF
	}
	// e_type == 2 (ET_EXEC), e_machine == 3 (EM_386), e_version == 1,
	// per spec.md §4.4.
	if h.Type != uint16(elf.ET_EXEC) || h.Machine != uint16(elf.EM_386) || h.Version != 1 {
		return ehdr32{}, defs.EBADELF
	}
	if h.Phentsize != 32 {
		return ehdr32{}, defs.EBADELF
	}
	return h, defs.EOK
}

func readPhdr(file *execfile.File, off int64, entsize int) (phdr32, defs.Err_t) {
	if entsize != 32 {
		return phdr32{}, defs.EBADELF
	}
	var buf [32]byte
	n, rerr := file.ReadAt(buf[:], off)
	if rerr != nil || n != len(buf) {
		return phdr32{}, defs.EBADELF
	}
	var p phdr32
	if err := binary.Read(sliceReader(buf[:]), binary.LittleEndian, &p); err != nil {
		return phdr32{}, defs.EBADELF
	}
	return p, defs.EOK
}

// validateSegment mirrors process.c's validate_segment: it rejects a
// PT_LOAD segment whose offsets or sizes make it unsafe to map, without
// yet touching the address space.
func validateSegment(phdr phdr32, fileLen int) defs.Err_t {
	if phdr.Offset&uint32(pageMask) != phdr.Vaddr&uint32(pageMask) {
		return defs.EBADELF
	}
	if phdr.Offset > uint32(fileLen) {
		return defs.EBADELF
	}
	if phdr.Memsz < phdr.Filesz {
		return defs.EBADELF
	}
	if phdr.Memsz == 0 {
		return defs.EBADELF
	}
	end := phdr.Vaddr + phdr.Memsz
	if end < phdr.Vaddr {
		return defs.EBADELF
	}
	if phdr.Vaddr < uint32(pageSize) {
		return defs.EBADELF
	}
	if phdr.Vaddr >= uint32(physBase) || end > uint32(physBase) {
		return defs.EBADELF
	}
	return defs.EOK
}

// registerLoadSegment computes file_page/mem_page/page_offset and the
// read_bytes/zero_bytes split exactly as process.c's load() does, then
// registers one KindFile SPT entry per page spanned by the segment,
// tagging permissions per spec.md §4.4: "Writable segments carry
// PTE_W; all are tagged PTE_E | PTE_U | PTE_F". No frame is allocated here.
func registerLoadSegment(space *addrspace.Space, file *execfile.File, phdr phdr32) defs.Err_t {
	if err := validateSegment(phdr, file.Length()); err != defs.EOK {
		return err
	}

	writable := phdr.Flags&2 != 0 // PF_W
	filePage := phdr.Offset &^ uint32(pageMask)
	memPage := phdr.Vaddr &^ uint32(pageMask)
	pageOffset := phdr.Vaddr & uint32(pageMask)

	var readBytes, zeroBytes uint32
	if phdr.Filesz > 0 {
		readBytes = pageOffset + phdr.Filesz
		zeroBytes = roundUp(pageOffset+phdr.Memsz, pageSize) - readBytes
	} else {
		readBytes = 0
		zeroBytes = roundUp(pageOffset+phdr.Memsz, pageSize)
	}

	bits := pagetable.PTE_U | pagetable.PTE_E | pagetable.PTE_F
	if writable {
		bits |= pagetable.PTE_W
	}

	va := uintptr(memPage)
	fileOff := int(filePage)
	remaining := int(readBytes)
	total := int(readBytes + zeroBytes)
	for consumed := 0; consumed < total; consumed += pageSize {
		n := remaining
		if n > pageSize {
			n = pageSize
		}
		if n < 0 {
			n = 0
		}
		desc := spt.Entry{Kind: spt.KindFile, File: file, Offset: fileOff, ReadBytes: n}
		if _, err := space.MapPage(va, pagetable.Pa_t(bits), desc); err != defs.EOK {
			return err
		}
		va += pageSize
		fileOff += n
		remaining -= n
	}
	return defs.EOK
}

// physBase is this core's stand-in for Pintos's PHYS_BASE: the top of
// user virtual address space, where the stack begins and grows down.
const physBase = uintptr(0xC0000000)

// setupStack installs the single zero-filled stack page at
// PHYS_BASE-PAGE_SIZE (spec.md §4.4) and returns PHYS_BASE, the
// empty stack's initial top-of-stack pointer.
func setupStack(space *addrspace.Space) (uint32, defs.Err_t) {
	va := physBase - pageSize
	bits := pagetable.PTE_U | pagetable.PTE_W
	desc := spt.Entry{Kind: spt.KindZero}
	if _, err := space.MapPage(va, pagetable.Pa_t(bits), desc); err != defs.EOK {
		return 0, err
	}
	if ferr := space.Fault(va); ferr != defs.EOK {
		return 0, ferr
	}
	return uint32(physBase), defs.EOK
}

func roundUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// sliceReader adapts a []byte to an io.Reader for binary.Read without
// pulling in bytes.Reader's extra API surface.
type sliceByteReader struct {
	b   []byte
	pos int
}

func sliceReader(b []byte) io.Reader { return &sliceByteReader{b: b} }

func (r *sliceByteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
