package deferred

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestResolveOnce(t *testing.T) {
	d := New[int]()

	var got []int
	d.Then(func(v int) { got = append(got, v) }, func(error) { t.Error("failure continuation called") })

	if !d.Resolve(1) {
		t.Fatal("first Resolve should take effect")
	}
	if d.Resolve(2) {
		t.Error("second Resolve should be ignored")
	}
	if d.Reject(errors.New("late")) {
		t.Error("Reject after Resolve should be ignored")
	}

	if len(got) != 1 || got[0] != 1 {
		t.Errorf("continuation values = %v, want [1]", got)
	}
	v, ok, err := d.Result()
	if !ok || err != nil || v != 1 {
		t.Errorf("Result() = %d, %v, %v; want 1, true, nil", v, ok, err)
	}
}

func TestRejectOnce(t *testing.T) {
	boom := errors.New("boom")
	d := New[string]()

	var calls int
	d.Then(nil, func(err error) {
		calls++
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
	})

	d.Reject(boom)
	d.Reject(errors.New("again"))
	d.Resolve("late")

	if calls != 1 {
		t.Errorf("failure continuation called %d times, want 1", calls)
	}
}

func TestRejectNil(t *testing.T) {
	d := New[int]()
	var failed error
	d.Then(func(int) { t.Error("success continuation called") }, func(err error) { failed = err })

	if !d.Reject(nil) {
		t.Fatal("Reject(nil) should settle the handle")
	}
	if !errors.Is(failed, ErrNilRejection) {
		t.Errorf("failure continuation err = %v, want ErrNilRejection", failed)
	}

	// Late continuations still see a failure.
	var late error
	d.Then(func(int) { t.Error("late success continuation called") }, func(err error) { late = err })
	if !errors.Is(late, ErrNilRejection) {
		t.Errorf("late err = %v, want ErrNilRejection", late)
	}

	_, ok, err := d.Result()
	if !ok || !errors.Is(err, ErrNilRejection) {
		t.Errorf("Result() = %v, %v; want true, ErrNilRejection", ok, err)
	}
	if _, err := Rejected[int](nil).Wait(context.Background()); !errors.Is(err, ErrNilRejection) {
		t.Errorf("Wait() err = %v, want ErrNilRejection", err)
	}
}

func TestProgressObserverAddedDuringProgress(t *testing.T) {
	d := New[int]()
	var outer, inner int
	d.OnProgress(func(any) {
		outer++
		d.OnProgress(func(any) { inner++ })
	})

	d.Progress(1)
	d.Progress(2)

	if outer != 2 || inner != 1 {
		t.Errorf("outer = %d, inner = %d; want 2, 1", outer, inner)
	}
}

func TestThenAfterSettle(t *testing.T) {
	t.Run("Resolved", func(t *testing.T) {
		var got string
		Resolved("ok").Then(func(v string) { got = v }, nil)
		if got != "ok" {
			t.Errorf("got %q, want %q", got, "ok")
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		var got error
		Rejected[string](context.Canceled).Then(nil, func(err error) { got = err })
		if !errors.Is(got, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", got)
		}
	})
}

func TestProgressBeforeResolution(t *testing.T) {
	d := New[int]()

	var updates []any
	d.OnProgress(func(u any) { updates = append(updates, u) })

	if !d.Progress("queued") {
		t.Error("Progress before settlement should be accepted")
	}
	d.Progress("running")
	d.Resolve(42)

	if d.Progress("late") {
		t.Error("Progress after settlement should be dropped")
	}
	if len(updates) != 2 || updates[0] != "queued" || updates[1] != "running" {
		t.Errorf("updates = %v, want [queued running]", updates)
	}
}

func TestMultipleObservers(t *testing.T) {
	d := New[int]()

	var a, b int
	d.OnProgress(func(any) { a++ })
	d.OnProgress(func(any) { b++ })
	d.Progress(nil)

	if a != 1 || b != 1 {
		t.Errorf("observer calls = %d, %d; want 1, 1", a, b)
	}
}

func TestWait(t *testing.T) {
	t.Run("Settles", func(t *testing.T) {
		d := New[int]()
		go func() {
			time.Sleep(5 * time.Millisecond)
			d.Resolve(7)
		}()

		v, err := d.Wait(context.Background())
		if err != nil || v != 7 {
			t.Errorf("Wait() = %d, %v; want 7, nil", v, err)
		}
	})

	t.Run("ContextDone", func(t *testing.T) {
		d := New[int]()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()

		_, err := d.Wait(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Wait() err = %v, want DeadlineExceeded", err)
		}
		if _, ok, _ := d.Result(); ok {
			t.Error("handle should still be pending")
		}
	})
}

func TestConcurrentSettle(t *testing.T) {
	d := New[int]()

	var mu sync.Mutex
	var wins int
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok = d.Resolve(i)
			} else {
				ok = d.Reject(errors.New("odd"))
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d settlements took effect, want 1", wins)
	}
	select {
	case <-d.Done():
	default:
		t.Error("Done channel should be closed")
	}
}
