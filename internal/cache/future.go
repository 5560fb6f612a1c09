package cache

import (
	"context"
	"time"

	"github.com/abramin/namelens/internal/mapping"
)

// Future is the pending result of a Lookup. It completes exactly once.
type Future struct {
	done    chan struct{}
	version string
	dataset *mapping.Dataset
	records []mapping.Record
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(version string, ds *mapping.Dataset, records []mapping.Record, err error) {
	f.version = version
	f.dataset = ds
	f.records = records
	f.err = err
	close(f.done)
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the result is available without blocking.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the result is available or ctx is done. Giving up on the
// wait does not affect the build behind it.
func (f *Future) Wait(ctx context.Context) ([]mapping.Record, error) {
	select {
	case <-f.done:
		return f.records, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitFor waits at most d. When ready is false the build is still running
// and the Future stays usable through Done, Wait or OnDone.
func (f *Future) WaitFor(d time.Duration) (records []mapping.Record, ready bool, err error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.records, true, f.err
	case <-timer.C:
		return nil, false, nil
	}
}

// OnDone calls fn from a new goroutine once the result is available.
func (f *Future) OnDone(fn func(records []mapping.Record, err error)) {
	go func() {
		<-f.done
		fn(f.records, f.err)
	}()
}

// Version is the resolved version. Valid once Done is closed.
func (f *Future) Version() string {
	<-f.done
	return f.version
}

// Dataset is the dataset the lookup ran against. Valid once Done is closed;
// nil when the lookup failed.
func (f *Future) Dataset() *mapping.Dataset {
	<-f.done
	return f.dataset
}
