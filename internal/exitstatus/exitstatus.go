// Package exitstatus implements the parent/child exit-status object and
// its LIVE/EXITED/REAPED/DEAD state machine, per spec.md §3 and §4.6.
//
// It is grounded on the teacher kernel's tinfo.Tnote_t/Threadinfo_t
// (biscuit/src/tinfo/tinfo.go), a per-thread object guarded by its own
// embedded mutex and tracked in a map owned by its parent structure, and
// on oommsg.Oommsg_t (biscuit/src/oommsg/oommsg.go)'s use of a channel
// as a one-shot signal. This core's wait_on_exit is a real counting
// semaphore rather than a channel, since spec.md §3 explicitly calls it
// a "counting semaphore" a parent may down more than once across
// siblings sharing a child list — golang.org/x/sync/semaphore.Weighted
// provides exactly that shape.
package exitstatus

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"kerncore/internal/defs"
)

// State is one of the exit-status object's four states (spec.md §4.6).
type State int

const (
	Live State = iota
	Exited
	Reaped
	Dead
)

// Status is the independently-allocated object jointly owned by a
// parent and child thread, per spec.md §3's "Exit-status object".
type Status struct {
	mu    sync.Mutex
	state State

	ChildTid  defs.Tid_t
	ExitValue int

	sema *semaphore.Weighted

	// child is the back-pointer to the child thread, nulled by the
	// parent on parent-exit (spec.md §4.6's LIVE→DEAD transition).
	child any
}

// New allocates a fresh exit-status object in the LIVE state, its
// wait_on_exit semaphore initialized to zero permits held (spec.md §3).
//
// golang.org/x/sync/semaphore.Weighted starts with its full capacity
// available, the opposite of a counting semaphore initialized to zero;
// New immediately acquires the single permit so the semaphore starts
// empty, matching spec.md's "counting semaphore wait_on_exit
// initialized to 0" until the child's PostExit releases it.
func New(childTid defs.Tid_t, child any) *Status {
	s := &Status{
		ChildTid: childTid,
		state:    Live,
		sema:     semaphore.NewWeighted(1),
		child:    child,
	}
	s.sema.Acquire(context.Background(), 1)
	return s
}

// State reports the object's current state, for tests and diagnostics.
func (s *Status) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Child returns the back-pointer to the child thread, or nil if the
// parent has already nulled it (parent-exit raced ahead of child-exit).
func (s *Status) Child() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

// PostExit implements process_exit step (h): under the caller's
// equivalent of "interrupts disabled", if the back-pointer to this
// object is still non-null (the parent has not already nulled it via
// ClearChild), write the exit value and up wait_on_exit exactly once,
// per spec.md §4.6's "LIVE → EXITED by child" transition and its
// invariant that "the semaphore is upped at most once".
func (s *Status) PostExit(value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil {
		// Parent already executed the LIVE→DEAD transition; this
		// object is already freed from the child's point of view.
		return
	}
	s.ExitValue = value
	s.state = Exited
	s.sema.Release(1)
}

// ClearChild implements the parent's half of process_exit step (a): it
// nulls the back-pointer to the child thread so a racing PostExit
// observes it and skips the semaphore up, then reports whether the
// object transitioned to DEAD (child had not exited yet) so the caller
// knows whether it, rather than a future Wait, owns freeing it.
func (s *Status) ClearChild() (wentDead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.child = nil
	if s.state == Live {
		s.state = Dead
		return true
	}
	return false
}

// Wait downs wait_on_exit and transitions EXITED→REAPED, implementing
// the blocking half of process_wait (spec.md §4.6). Callers must ensure
// this is invoked at most once per object (spec.md's NO_SUCH_CHILD
// applies to repeat calls, enforced by the caller's child-list unlink).
func (s *Status) Wait(ctx context.Context) (int, defs.Err_t) {
	if err := s.sema.Acquire(ctx, 1); err != nil {
		return 0, defs.EIO
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reaped
	return s.ExitValue, defs.EOK
}
