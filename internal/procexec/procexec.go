// Package procexec tokenizes a command line and lays its argument
// vector out on a process's newly faulted-in stack page, per spec.md
// §4.4's "Argument passing" and scenario 1 ("echo x y").
//
// It is grounded on process.c's setup_stack/push_arguments split
// (_examples/original_source/src/userprog/process.c), redesigned so a
// single BuildArgv pass computes both the tokenized argv and the stack
// byte budget process.c computed twice (once in a calculate_len-style
// pass, once during the actual push) — resolving spec.md's Open
// Question (a), which calls out the original's two passes as a source
// of drift between the size check and the real layout.
package procexec

import (
	"strings"

	"kerncore/internal/addrspace"
	"kerncore/internal/defs"
	"kerncore/internal/pagetable"
)

const wordSize = 4

// Layout is the single source of truth for both the page-budget check
// and the actual stack push: the tokenized argv plus every byte count
// push needs, computed once.
type Layout struct {
	Argv       []string
	StringSize int // rounded-up total bytes of argv[0]..argv[n-1], each NUL-terminated
	padding    int // alignment padding bytes between strings and the pointer array
}

// Tokenize splits cmdLine on single spaces without collapsing runs of
// consecutive spaces, per spec.md §4.4: empty tokens between adjacent
// spaces are kept as empty strings, exactly like strtok_r over " " would
// not be ("successive spaces are not collapsed").
func Tokenize(cmdLine string) []string {
	return strings.Split(cmdLine, " ")
}

// BuildArgv tokenizes cmdLine and computes the full stack layout in one
// pass, so the page-budget check in PushArgv and the actual byte offsets
// it writes can never disagree.
func BuildArgv(cmdLine string) (Layout, defs.Err_t) {
	if cmdLine == "" {
		return Layout{}, defs.EBADARGS
	}
	argv := Tokenize(cmdLine)

	stringBytes := 0
	for _, s := range argv {
		stringBytes += len(s) + 1 // NUL terminator
	}
	aligned := roundUp(stringBytes, wordSize)

	return Layout{
		Argv:       argv,
		StringSize: aligned,
		padding:    aligned - stringBytes,
	}, defs.EOK
}

// budget returns the total stack bytes this layout needs: the rounded
// string bytes plus (argc+4) pointer-sized words — one word per argv
// pointer (argc of them), a NULL sentinel, a pointer to argv[0], argc
// itself, and the fake return address, per spec.md §4.4.
func (l Layout) budget() int {
	argc := len(l.Argv)
	return l.StringSize + (argc+4)*wordSize
}

// PushArgv lays Layout out on the single stack page already faulted
// into space at PHYS_BASE-PAGE_SIZE (internal/elf32.Load's setupStack),
// and returns the stack pointer the child resumes user mode with. It
// fails with EBADARGS if the layout does not fit in one page, per
// spec.md §4.4: "If the total exceeds one page, argument passing
// fails and the process does not start."
func PushArgv(space *addrspace.Space, physBase uint32, layout Layout) (uint32, defs.Err_t) {
	if layout.budget() > pagetable.PageSize {
		return 0, defs.EBADARGS
	}

	stackVA := uintptr(physBase) - pagetable.PageSize
	frame, err := space.FrameBytes(stackVA)
	if err != defs.EOK {
		return 0, err
	}

	// Stack bytes are written from the top of the page down; sp tracks
	// the current stack pointer as a user virtual address, starting at
	// physBase.
	sp := uint32(physBase)

	argc := len(layout.Argv)
	strAddrs := make([]uint32, argc)

	// 1. Argument strings, in order, each including its NUL terminator.
	for i, s := range layout.Argv {
		n := len(s) + 1
		sp -= uint32(n)
		off := pageOffset(physBase, sp)
		copy(frame[off:off+len(s)], s)
		frame[off+len(s)] = 0
		strAddrs[i] = sp
	}

	// 2. Word-alignment padding.
	sp -= uint32(layout.padding)
	zeroRange(frame, pageOffset(physBase, sp), int(layout.padding))

	// 3. NULL pointer sentinel terminating argv[].
	sp -= wordSize
	putWord(frame, pageOffset(physBase, sp), 0)

	// 4. argv[argc-1] .. argv[0] pointers, high to low per spec.md §8
	// scenario 1's "[ &"echo", &"x", &"y", 0 ]" ordering in memory.
	for i := argc - 1; i >= 0; i-- {
		sp -= wordSize
		putWord(frame, pageOffset(physBase, sp), strAddrs[i])
	}
	argvPtr := sp

	// 5. Pointer to argv[0].
	sp -= wordSize
	putWord(frame, pageOffset(physBase, sp), argvPtr)

	// 6. argc.
	sp -= wordSize
	putWord(frame, pageOffset(physBase, sp), uint32(argc))

	// 7. Fake return address.
	sp -= wordSize
	putWord(frame, pageOffset(physBase, sp), 0)

	space.Touch(stackVA, true)
	return sp, defs.EOK
}

func pageOffset(physBase, addr uint32) int {
	return int(addr - (physBase - pagetable.PageSize))
}

func putWord(frame []byte, off int, v uint32) {
	frame[off] = byte(v)
	frame[off+1] = byte(v >> 8)
	frame[off+2] = byte(v >> 16)
	frame[off+3] = byte(v >> 24)
}

func zeroRange(frame []byte, off, n int) {
	for i := 0; i < n; i++ {
		frame[off+i] = 0
	}
}

func roundUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
