// Package proc implements the process lifecycle of spec.md §4.5:
// process_execute, start_process, process_wait, and process_exit, tying
// together the address space, ELF loader, argument-stack layout, and
// exit-status packages built underneath it.
//
// It is grounded on the teacher kernel's process/thread bookkeeping:
// tinfo.Threadinfo_t's map-of-notes-under-a-mutex shape for tracking
// live threads by id (biscuit/src/tinfo/tinfo.go), and fd/fd.go's
// Fd_t handle-table convention, generalized here to the small-integer-
// keyed handle table spec.md §3 describes (the real file-descriptor
// operations table is explicitly out of this core's scope).
package proc

import (
	"context"
	"sync"

	"kerncore/internal/addrspace"
	"kerncore/internal/config"
	"kerncore/internal/console"
	"kerncore/internal/defs"
	"kerncore/internal/elf32"
	"kerncore/internal/execfile"
	"kerncore/internal/exitstatus"
	"kerncore/internal/frametab"
	"kerncore/internal/procexec"
	"kerncore/internal/sectorcache"
	"kerncore/internal/swap"
)

// firstUserFd is where a process's handle table begins, per spec.md §3:
// "a file-handle table indexed by small integers starting at 2" (0 and
// 1 are reserved for stdin/stdout, which live outside this core).
const firstUserFd = 2

// Program describes where a named executable's image lives on the
// block device. The real inode/filesystem layer that would resolve a
// path to this information is explicitly out of this core's scope
// (spec.md §1); Kernel.Programs is the minimal stand-in needed to
// exercise the loader against the sector cache at all.
type Program struct {
	StartSector int
	Length      int
}

// Kernel bundles the kernel-wide singletons every process shares: the
// frame table, swap table, and sector cache backing every address
// space's demand paging, plus the tid allocator and process registry.
type Kernel struct {
	Config *config.Config
	Frames *frametab.Table
	Swap   *swap.Table
	Cache  *sectorcache.Cache

	mu       sync.Mutex
	programs map[string]Program
	nextTid  defs.Tid_t
	procs    map[defs.Tid_t]*Process
}

// NewKernel bundles the caller-built sector cache, swap table, and frame
// table with cfg into a Kernel with an empty program registry, ready to
// execute processes.
func NewKernel(cfg *config.Config, cache *sectorcache.Cache, swapTbl *swap.Table, frames *frametab.Table) *Kernel {
	return &Kernel{
		Config:   cfg,
		Frames:   frames,
		Swap:     swapTbl,
		Cache:    cache,
		programs: make(map[string]Program),
		procs:    make(map[defs.Tid_t]*Process),
	}
}

// RegisterProgram makes name resolvable by process_execute/start_process,
// standing in for a filesystem lookup.
func (k *Kernel) RegisterProgram(name string, startSector, length int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.programs[name] = Program{StartSector: startSector, Length: length}
}

func (k *Kernel) allocTid() defs.Tid_t {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextTid++
	return k.nextTid
}

// Process is the Thread/Process object of spec.md §3.
type Process struct {
	Tid    defs.Tid_t
	Name   string
	Space  *addrspace.Space
	IsUser bool

	Entry uint32
	Esp   uint32

	mu     sync.Mutex
	image  *execfile.File
	files  map[int]any
	nextFd int

	childrenMu sync.Mutex
	children   []*exitstatus.Status

	// myStatus is this process's back-pointer to its own exit-status
	// object held by its parent (spec.md §3); nulled on self-exit.
	myStatus *exitstatus.Status
}

func newProcess(tid defs.Tid_t, name string, space *addrspace.Space) *Process {
	return &Process{
		Tid:    tid,
		Name:   name,
		Space:  space,
		files:  make(map[int]any),
		nextFd: firstUserFd,
	}
}

// OpenFile installs f in the process's handle table and returns its
// small-integer handle.
func (p *Process) OpenFile(f any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	fd := p.nextFd
	p.nextFd++
	p.files[fd] = f
	return fd
}

// ProcessExecute implements spec.md §4.5's process_execute(cmd_line): it
// tokenizes cmdLine's leading token as the program name, starts the
// child concurrently (the teacher's preemptive thread scheduler this
// core treats as an external collaborator is modeled here by a plain
// goroutine, since Go's own scheduler already provides the concurrency
// "create a kernel thread" asks for), and blocks until start_process
// has attempted the load.
//
// parent is nil for the kernel's very first process.
func (k *Kernel) ProcessExecute(parent *Process, cmdLine string) (defs.Tid_t, defs.Err_t) {
	// "duplicates the command line into a fresh kernel page to
	// eliminate the load-time race": Go strings are immutable value
	// copies already, so passing cmdLine to the goroutine below is
	// that duplication — no separate copy step is needed.
	layout, err := procexec.BuildArgv(cmdLine)
	if err != defs.EOK {
		return defs.BadTid, err
	}

	tid := k.allocTid()
	space := addrspace.New(k.Frames, k.Swap)
	child := newProcess(tid, layout.Argv[0], space)

	k.mu.Lock()
	k.procs[tid] = child
	k.mu.Unlock()

	var status *exitstatus.Status
	if parent != nil {
		status = exitstatus.New(tid, child)
		child.myStatus = status
		parent.childrenMu.Lock()
		parent.children = append(parent.children, status)
		parent.childrenMu.Unlock()
	}

	done := make(chan defs.Err_t, 1)
	go k.startProcess(child, layout, done)
	if loadErr := <-done; loadErr != defs.EOK {
		return defs.BadTid, loadErr
	}
	return tid, defs.EOK
}

// startProcess implements spec.md §4.5's start_process: it loads the
// ELF image, lays out argv on the stack, and signals done with EOK or
// the failure code once the attempt is known.
func (k *Kernel) startProcess(child *Process, layout procexec.Layout, done chan<- defs.Err_t) {
	prog, ok := k.lookupProgram(layout.Argv[0])
	if !ok {
		k.processExit(child, -1)
		done <- defs.ENOENT
		return
	}

	file := execfile.Open(k.Cache, prog.StartSector, prog.Length)
	img, err := elf32.Load(file, child.Space, k.Config)
	if err != defs.EOK {
		k.processExit(child, -1)
		done <- err
		return
	}

	esp, err := procexec.PushArgv(child.Space, img.Esp, layout)
	if err != defs.EOK {
		file.AllowWrite()
		k.processExit(child, -1)
		done <- err
		return
	}

	child.mu.Lock()
	child.image = file
	child.IsUser = true
	child.Entry = img.Entry
	child.Esp = esp
	child.mu.Unlock()

	done <- defs.EOK
}

func (k *Kernel) lookupProgram(name string) (Program, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.programs[name]
	return p, ok
}

// ProcessWait implements spec.md §4.5's process_wait(child_tid). It
// releases the child-list lock before blocking on the exit-status
// semaphore, per spec.md's Open Question (b): holding it across the
// down would deadlock a sibling's concurrent process_exit trying to
// append or notify through the same lock.
func (k *Kernel) ProcessWait(ctx context.Context, parent *Process, childTid defs.Tid_t) (int, defs.Err_t) {
	parent.childrenMu.Lock()
	idx := indexOfChild(parent.children, childTid)
	if idx < 0 {
		parent.childrenMu.Unlock()
		return -1, defs.ENOCHILD
	}
	status := parent.children[idx]
	parent.childrenMu.Unlock()

	value, err := status.Wait(ctx)
	if err != defs.EOK {
		return -1, err
	}

	parent.childrenMu.Lock()
	if i := indexOfChild(parent.children, childTid); i >= 0 {
		parent.children = append(parent.children[:i], parent.children[i+1:]...)
	}
	parent.childrenMu.Unlock()

	return value, defs.EOK
}

func indexOfChild(children []*exitstatus.Status, tid defs.Tid_t) int {
	for i, c := range children {
		if c.ChildTid == tid {
			return i
		}
	}
	return -1
}

// ProcessExit implements spec.md §4.5's process_exit(value) steps
// (a)-(h).
func (k *Kernel) ProcessExit(p *Process, value int) {
	k.processExit(p, value)
}

func (k *Kernel) processExit(p *Process, value int) {
	// (a) walk the child list, nulling each child's back-pointer to its
	// exit-status object and freeing those this process outlived.
	p.childrenMu.Lock()
	children := p.children
	p.children = nil
	p.childrenMu.Unlock()
	for _, status := range children {
		status.ClearChild()
		// A status that went DEAD here is now referenced by no one
		// but this loop variable; Go's GC reclaims it, playing the
		// role of the teacher's explicit free.
	}

	// (b) re-allow writes to the executable file and close it.
	p.mu.Lock()
	if p.image != nil {
		p.image.AllowWrite()
		p.image = nil
	}

	// (c)-(d) release the handle table. Its entries (handles numbered
	// from firstUserFd up) are opaque values, so they are dropped with
	// the table; no per-handle close is performed.
	p.files = nil
	p.mu.Unlock()

	// (e)-(f): this core has no live MMU page-directory register to
	// null-and-switch before freeing the directory (spec.md §4.5(e)'s
	// "a preemption between the null-out and the activation must not
	// reactivate a freed directory" concerns a hardware CR3 switch this
	// Go-only core does not perform), so destroying the address space
	// directly is safe: nothing else holds a reference to p.Space once
	// p is no longer reachable from Kernel.procs.
	p.Space.Destroy()

	// (g) print the exit line, only for processes that reached user
	// mode.
	if p.IsUser {
		console.ExitLine(p.Name, value)
	}

	// (h) if the back-pointer to this process's own exit-status object
	// is still live, post the exit value and wake the parent.
	if p.myStatus != nil {
		p.myStatus.PostExit(value)
		p.myStatus = nil
	}

	k.mu.Lock()
	delete(k.procs, p.Tid)
	k.mu.Unlock()
}
