package goRecover

import (
	"sync"
	"time"
)

// Ticker is the subset of *time.Ticker a session needs. Tests substitute a
// manually driven implementation through WithTickerFactory.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

func newStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// cooldown counts whole seconds down to zero. It shares its owner's mutex so
// ticks are serialized with user operations; every method except wait must
// be called with that mutex held.
type cooldown struct {
	mu        *sync.Mutex
	remaining int
	interval  time.Duration
	factory   TickerFactory
	stop      chan struct{}
	wg        sync.WaitGroup
}

func newCooldown(mu *sync.Mutex, interval time.Duration, factory TickerFactory) *cooldown {
	if factory == nil {
		factory = newStdTicker
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &cooldown{mu: mu, interval: interval, factory: factory}
}

// restart stops any running countdown and begins a new one from seconds.
func (c *cooldown) restart(seconds int) {
	c.halt()
	if seconds <= 0 {
		c.remaining = 0
		return
	}
	c.remaining = seconds

	stop := make(chan struct{})
	c.stop = stop
	t := c.factory(c.interval)

	c.wg.Add(1)
	go c.run(t, stop)
}

// halt stops the countdown and keeps the remaining value.
func (c *cooldown) halt() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *cooldown) running() bool { return c.stop != nil }

// wait blocks until every ticker goroutine has exited. Call without the mutex.
func (c *cooldown) wait() { c.wg.Wait() }

func (c *cooldown) run(t Ticker, stop <-chan struct{}) {
	defer c.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C():
		}

		c.mu.Lock()
		select {
		case <-stop:
			// Replaced or halted while this tick waited for the lock.
			c.mu.Unlock()
			return
		default:
		}
		if c.remaining > 0 {
			c.remaining--
		}
		if c.remaining == 0 {
			c.halt()
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}
