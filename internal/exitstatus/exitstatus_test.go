package exitstatus

import (
	"context"
	"testing"
	"time"

	"kerncore/internal/defs"
)

// TestWaitBlocksUntilPostExit is spec.md §8 scenario 3: a parent calling
// Wait before the child has exited must block until PostExit runs.
func TestWaitBlocksUntilPostExit(t *testing.T) {
	s := New(1, "child")

	done := make(chan struct{})
	var gotValue int
	var gotErr defs.Err_t
	go func() {
		gotValue, gotErr = s.Wait(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Wait returned before PostExit was called")
	case <-time.After(20 * time.Millisecond):
	}

	s.PostExit(42)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not unblock after PostExit")
	}
	if gotErr != defs.EOK {
		t.Fatalf("Wait error: %v", gotErr)
	}
	if gotValue != 42 {
		t.Fatalf("Wait value = %d, want 42", gotValue)
	}
	if s.State() != Reaped {
		t.Fatalf("expected state Reaped after Wait, got %v", s.State())
	}
}

// TestPostExitBeforeWait is spec.md §8 scenario 4: a child that exits
// before the parent calls Wait must still let Wait return immediately.
func TestPostExitBeforeWait(t *testing.T) {
	s := New(1, "child")
	s.PostExit(7)
	if s.State() != Exited {
		t.Fatalf("expected state Exited after PostExit, got %v", s.State())
	}

	value, err := s.Wait(context.Background())
	if err != defs.EOK || value != 7 {
		t.Fatalf("Wait() = (%d, %v), want (7, EOK)", value, err)
	}
}

// TestClearChildBeforeExitGoesDeadAndSkipsPost is spec.md §8 scenario 5:
// if the parent exits (and clears its children) before the child posts,
// PostExit becomes a no-op and the object is considered DEAD.
func TestClearChildBeforeExitGoesDeadAndSkipsPost(t *testing.T) {
	s := New(1, "child")
	wentDead := s.ClearChild()
	if !wentDead {
		t.Fatalf("expected ClearChild to report DEAD transition while still LIVE")
	}
	if s.State() != Dead {
		t.Fatalf("expected state Dead, got %v", s.State())
	}

	// A subsequent PostExit from the child must be a no-op: it must not
	// release the semaphore, since nothing is left to wake.
	s.PostExit(99)
	if s.State() != Dead {
		t.Fatalf("PostExit after ClearChild must not change state, got %v", s.State())
	}
}

func TestClearChildAfterExitDoesNotGoDead(t *testing.T) {
	s := New(1, "child")
	s.PostExit(3)
	if wentDead := s.ClearChild(); wentDead {
		t.Fatalf("ClearChild should not report DEAD once already EXITED")
	}
}
