package chrono

import (
	"context"
	"sync"
	"time"
)

// FakeImpl never blocks, it advances its own time on every Sleep and keeps
// the requested durations.
type FakeImpl struct {
	mutex  sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func NewFakeImpl(start time.Time) *FakeImpl {
	return &FakeImpl{now: start}
}

func (f *FakeImpl) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *FakeImpl) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func (f *FakeImpl) Sleeps() []time.Duration {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}
