package app

import (
	"sync"
	"time"
)

// Countdown counts down from a total duration in fixed ticks and fires onExpire once when it reaches zero.
// After Cancel returns, onExpire is never invoked.
type Countdown struct {
	tick     time.Duration
	onTick   func(remaining time.Duration)
	onExpire func()

	mu        sync.Mutex
	remaining time.Duration
	started   bool
	stopped   bool
	stop      chan struct{}
}

func NewCountdown(total, tick time.Duration, onTick func(time.Duration), onExpire func()) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	return &Countdown{
		tick:      tick,
		onTick:    onTick,
		onExpire:  onExpire,
		remaining: total,
		stop:      make(chan struct{}),
	}
}

// Start launches the countdown goroutine. Calling it again is a no-op.
func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	go c.run()
}

// Cancel stops the countdown. It reports whether the call prevented expiry.
func (c *Countdown) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.stopped = true
	close(c.stop)
	return true
}

// Remaining returns the time left on the countdown.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) run() {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.remaining -= c.tick
		if c.remaining < 0 {
			c.remaining = 0
		}
		remaining := c.remaining
		expired := remaining == 0
		if expired {
			c.stopped = true
			close(c.stop)
		}
		c.mu.Unlock()

		if expired {
			if c.onExpire != nil {
				c.onExpire()
			}
			return
		}
		if c.onTick != nil {
			c.onTick(remaining)
		}
	}
}
