package register

import (
	"sync"
	"time"
)

const DefaultRedirectAfter = 30 * time.Second

// Countdown ticks once per interval until it runs out, then calls done.
// GoNow skips the wait; Stop cancels without calling done.
type Countdown struct {
	remaining time.Duration
	interval  time.Duration
	onTick    func(remaining time.Duration)
	done      func()

	once sync.Once
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewCountdown(total, interval time.Duration, onTick func(time.Duration), done func()) *Countdown {
	if onTick == nil {
		onTick = func(time.Duration) {}
	}
	return &Countdown{
		remaining: total,
		interval:  interval,
		onTick:    onTick,
		done:      done,
		stop:      make(chan struct{}),
	}
}

func (c *Countdown) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		remaining := c.remaining
		c.onTick(remaining)
		for remaining > 0 {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				remaining -= c.interval
				if remaining < 0 {
					remaining = 0
				}
				c.onTick(remaining)
			}
		}
		c.finish()
	}()
}

func (c *Countdown) finish() {
	c.once.Do(func() {
		close(c.stop)
		if c.done != nil {
			c.done()
		}
	})
}

// GoNow fires done immediately.
func (c *Countdown) GoNow() {
	c.finish()
}

// Stop cancels the countdown. done is not called.
func (c *Countdown) Stop() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}
