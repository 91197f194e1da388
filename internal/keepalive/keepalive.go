// Package keepalive repeats a "still working" signal while a slow
// operation runs. WhatsApp typing indicators expire after ~28 seconds,
// so the loop re-sends just under that.
package keepalive

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// Interval between sends. Must be below the indicator's expiry.
	Interval time.Duration
	// MaxDuration stops the loop even if nobody calls Stop.
	MaxDuration time.Duration
	// SendFn performs one signal send. Errors are logged, not fatal:
	// a missed typing indicator never fails the conversation.
	SendFn func(ctx context.Context) error
}

// Controller runs the keepalive loop. Start sends immediately and then
// on every tick; Stop is idempotent and safe from any goroutine.
type Controller struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	done     chan struct{}
}

func New(opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 26 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 5 * time.Minute
	}
	return &Controller{opts: opts, done: make(chan struct{})}
}

// Start launches the loop. The parent context bounds it in addition to
// MaxDuration and Stop.
func (c *Controller) Start(parent context.Context) {
	c.ctx, c.cancel = context.WithTimeout(parent, c.opts.MaxDuration)

	go func() {
		defer close(c.done)
		c.send()

		ticker := time.NewTicker(c.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.send()
			}
		}
	}()
}

func (c *Controller) send() {
	if err := c.opts.SendFn(c.ctx); err != nil && c.ctx.Err() == nil {
		slog.Debug("keepalive send failed", "error", err)
	}
}

// Stop ends the loop and waits for the in-flight send to finish, so no
// signal can land after the final reply.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
	})
}
