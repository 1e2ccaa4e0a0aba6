package session

import (
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/koscakluka/ema-live/core/config"
)

// debouncedApply coalesces configuration submissions: only the latest
// snapshot submitted within one quiet period is applied.
type debouncedApply struct {
	mu        sync.Mutex
	pending   *config.Snapshot
	debounced func(func())
	apply     func(config.Snapshot)
}

func newDebouncedApply(delay time.Duration, apply func(config.Snapshot)) *debouncedApply {
	return &debouncedApply{
		debounced: debounce.New(delay),
		apply:     apply,
	}
}

// Submit schedules cfg to be applied once no further submission arrives for
// the debounce delay.
func (d *debouncedApply) Submit(cfg config.Snapshot) {
	d.mu.Lock()
	d.pending = &cfg
	d.mu.Unlock()
	d.debounced(d.flush)
}

// Pending reports whether a submission is waiting for its quiet period.
func (d *debouncedApply) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *debouncedApply) flush() {
	d.mu.Lock()
	cfg := d.pending
	d.pending = nil
	d.mu.Unlock()

	if cfg != nil {
		d.apply(*cfg)
	}
}
