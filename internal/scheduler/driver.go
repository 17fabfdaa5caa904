package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/Jedidiah5/past-time/pkg/logx"
)

// DefaultSpec fires a tick once per minute.
const DefaultSpec = "* * * * *"

// Ticker is what the driver schedules. RunTick must be safe to call
// repeatedly; the driver never lets one tick's failure or panic stop the
// schedule.
type Ticker interface {
	RunTick(ctx context.Context) error
}

// Driver fires the scheduler on a cron schedule, plus once immediately
// at start so a freshly started process does not wait a full period.
type Driver struct {
	tick Ticker
	log  logx.Logger

	mu        sync.Mutex
	spec      string
	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
}

func NewDriver(tick Ticker, spec string, log logx.Logger) *Driver {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSpec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Driver{tick: tick, spec: spec, log: log}
}

func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(d.spec, func() { d.safeTick(runCtx) }); err != nil {
		cancel()
		return err
	}
	d.c = c
	d.runCtx = runCtx
	d.runCancel = cancel
	c.Start()

	// Immediate first tick, off the caller's goroutine.
	go d.safeTick(runCtx)

	d.log.Info("tick driver started", logx.String("spec", d.spec))
	return nil
}

// Apply switches to a new cron spec, restarting the schedule if it is
// running. Safe during hot reload.
func (d *Driver) Apply(spec string) error {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSpec
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if spec == d.spec {
		return nil
	}
	old := d.spec
	d.spec = spec
	if d.c == nil {
		return nil
	}

	runCtx := d.runCtx
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { d.safeTick(runCtx) }); err != nil {
		d.spec = old
		return err
	}
	<-d.c.Stop().Done()
	d.c = c
	c.Start()
	d.log.Info("tick spec changed", logx.String("from", old), logx.String("to", spec))
	return nil
}

func (d *Driver) Stop(ctx context.Context) {
	d.mu.Lock()
	c := d.c
	cancel := d.runCancel
	d.c = nil
	d.runCtx = nil
	d.runCancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		d.log.Info("tick driver stopped")
	case <-ctx.Done():
		// stop continues in background
	}
}

// safeTick shields the cron schedule from a tick that errors or panics.
func (d *Driver) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in tick", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	if err := d.tick.RunTick(ctx); err != nil {
		d.log.Error("tick failed", logx.Err(err))
	}
}
