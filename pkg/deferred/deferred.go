// Package deferred provides a single-use result handle with progress
// notifications.
//
// A Deferred settles exactly once, either resolved with a value or rejected
// with an error. Before it settles, any number of progress updates may be
// published. Consumers attach continuations with Then and OnProgress, or
// block with Wait.
//
//	d := deferred.New[*wire.Frame]()
//	d.OnProgress(func(update any) { fmt.Println("progress:", update) })
//	d.Then(
//	    func(f *wire.Frame) { fmt.Println("done:", f.Type) },
//	    func(err error) { fmt.Println("failed:", err) },
//	)
//
// Continuations run synchronously on the goroutine that settles the handle
// (or on the attaching goroutine if the handle already settled) and never
// under the handle's internal lock.
package deferred

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNilRejection replaces a nil error passed to Reject.
var ErrNilRejection = errors.New("deferred: rejected with nil error")

// Deferred is a single-use result handle.
type Deferred[T any] struct {
	mu sync.Mutex

	done    chan struct{}
	settled bool
	value   T
	err     error

	onSuccess  []func(T)
	onFailure  []func(error)
	onProgress []func(any)
}

// New creates an unsettled handle.
func New[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolved creates a handle already resolved with v.
func Resolved[T any](v T) *Deferred[T] {
	d := New[T]()
	d.Resolve(v)
	return d
}

// Rejected creates a handle already rejected with err.
func Rejected[T any](err error) *Deferred[T] {
	d := New[T]()
	d.Reject(err)
	return d
}

// Resolve settles the handle with v.
// Returns false if the handle had already settled.
func (d *Deferred[T]) Resolve(v T) bool {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return false
	}
	d.settled = true
	d.value = v
	callbacks := d.onSuccess
	d.clearLocked()
	close(d.done)
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn(v)
	}
	return true
}

// Reject settles the handle with err. A nil err is replaced by
// ErrNilRejection so the handle always reads as failed.
// Returns false if the handle had already settled.
func (d *Deferred[T]) Reject(err error) bool {
	if err == nil {
		err = ErrNilRejection
	}
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return false
	}
	d.settled = true
	d.err = err
	callbacks := d.onFailure
	d.clearLocked()
	close(d.done)
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
	return true
}

// Progress publishes an update to the progress observers.
// Returns false (and drops the update) once the handle has settled.
func (d *Deferred[T]) Progress(update any) bool {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return false
	}
	observers := slices.Clone(d.onProgress)
	d.mu.Unlock()

	for _, fn := range observers {
		fn(update)
	}
	return true
}

// Then attaches success and failure continuations. Either may be nil.
// If the handle already settled, the matching continuation runs immediately.
func (d *Deferred[T]) Then(onSuccess func(T), onFailure func(error)) *Deferred[T] {
	d.mu.Lock()
	if !d.settled {
		if onSuccess != nil {
			d.onSuccess = append(d.onSuccess, onSuccess)
		}
		if onFailure != nil {
			d.onFailure = append(d.onFailure, onFailure)
		}
		d.mu.Unlock()
		return d
	}
	value, err := d.value, d.err
	d.mu.Unlock()

	if err != nil {
		if onFailure != nil {
			onFailure(err)
		}
	} else if onSuccess != nil {
		onSuccess(value)
	}
	return d
}

// OnProgress attaches a progress observer. Observers attached after the
// handle settled are never called.
func (d *Deferred[T]) OnProgress(fn func(update any)) *Deferred[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.settled && fn != nil {
		d.onProgress = append(d.onProgress, fn)
	}
	return d
}

// Done returns a channel closed when the handle settles.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Result returns the settled value and error.
// ok is false while the handle is still pending.
func (d *Deferred[T]) Result() (value T, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.settled, d.err
}

// Wait blocks until the handle settles or ctx is done.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		v, _, err := d.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// clearLocked drops continuation references after settlement.
func (d *Deferred[T]) clearLocked() {
	d.onSuccess = nil
	d.onFailure = nil
	d.onProgress = nil
}
