package usecase

import (
	"sync"
	"time"
)

// Scheduler runs fn every interval until the returned cancel func is called.
type Scheduler interface {
	Schedule(interval time.Duration, fn func()) (cancel func())
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// TickerScheduler drives fn from a time.Ticker on a single goroutine, so a
// slow fn delays the next call and missed ticks are dropped.
type TickerScheduler struct{}

func (TickerScheduler) Schedule(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// ManualScheduler only runs fn when Fire is called. Used by tests and by
// callers that drive ticks themselves.
type ManualScheduler struct {
	mu       sync.Mutex
	fn       func()
	interval time.Duration
	gen      uint64
}

func (m *ManualScheduler) Schedule(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	gen := m.gen
	m.fn, m.interval = fn, interval
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen == gen {
			m.fn = nil
		}
	}
}

// Fire runs the scheduled func synchronously. It reports false when nothing
// is scheduled.
func (m *ManualScheduler) Fire() bool {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Active reports whether a func is scheduled.
func (m *ManualScheduler) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fn != nil
}

// Interval returns the interval of the last Schedule call.
func (m *ManualScheduler) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}
