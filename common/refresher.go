package common

import (
	"context"
	"sync"
	"time"
)

// Refresher defines work a RefreshLoop runs on every tick
type Refresher interface {
	// Refresh updates whatever the refresher produces. Errors are the
	// refresher's to report; the loop keeps ticking.
	Refresh(ctx context.Context) error
}

// RefreshFunc adapts a plain function to a Refresher
type RefreshFunc func(ctx context.Context) error

func (f RefreshFunc) Refresh(ctx context.Context) error {
	return f(ctx)
}

// DefaultRefreshInterval replaces intervals of zero or less
const DefaultRefreshInterval = time.Second

// RefreshLoop runs a Refresher at a fixed interval until it is stopped or its
// context ends.
type RefreshLoop struct {
	refresher Refresher
	interval  time.Duration
	immediate bool

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewRefreshLoop creates a stopped loop. With immediate set, the first refresh
// runs as soon as the loop starts instead of after one interval.
func NewRefreshLoop(refresher Refresher, interval time.Duration, immediate bool) *RefreshLoop {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &RefreshLoop{
		refresher: refresher,
		interval:  interval,
		immediate: immediate,
	}
}

// Start launches the loop. It returns false if the loop was already running.
func (l *RefreshLoop) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopChan != nil {
		return false
	}
	l.stopChan = make(chan struct{})
	l.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		if l.immediate {
			_ = l.refresher.Refresh(ctx)
		}
		for {
			select {
			case <-ticker.C:
				_ = l.refresher.Refresh(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}(l.stopChan, l.done)
	return true
}

// Stop halts the loop and waits for an in-flight refresh to finish. It
// returns false if the loop was not running.
func (l *RefreshLoop) Stop() bool {
	l.mu.Lock()
	stop, done := l.stopChan, l.done
	l.stopChan, l.done = nil, nil
	l.mu.Unlock()

	if stop == nil {
		return false
	}
	close(stop)
	<-done
	return true
}

// Interval returns the time between refreshes
func (l *RefreshLoop) Interval() time.Duration {
	return l.interval
}

// Running reports whether the loop has been started and not stopped
func (l *RefreshLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopChan != nil
}
