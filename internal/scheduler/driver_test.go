package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jedidiah5/past-time/pkg/logx"
)

type countingTicker struct {
	ticks atomic.Int64
	fail  bool
	panic bool
}

func (c *countingTicker) RunTick(context.Context) error {
	c.ticks.Add(1)
	if c.panic {
		panic("tick exploded")
	}
	if c.fail {
		return errors.New("tick failed")
	}
	return nil
}

func TestDriverRunsImmediatelyAtStart(t *testing.T) {
	tick := &countingTicker{}
	d := NewDriver(tick, DefaultSpec, logx.Nop())
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	assert.Eventually(t, func() bool { return tick.ticks.Load() >= 1 },
		2*time.Second, 10*time.Millisecond, "expected an immediate tick at startup")
}

func TestDriverSurvivesPanickingTick(t *testing.T) {
	tick := &countingTicker{panic: true}
	d := NewDriver(tick, "@every 50ms", logx.Nop())
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	// startup tick plus at least two scheduled ticks, all panicking
	assert.Eventually(t, func() bool { return tick.ticks.Load() >= 3 },
		3*time.Second, 10*time.Millisecond, "schedule must survive panicking ticks")
}

func TestDriverSurvivesFailingTick(t *testing.T) {
	tick := &countingTicker{fail: true}
	d := NewDriver(tick, "@every 50ms", logx.Nop())
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	assert.Eventually(t, func() bool { return tick.ticks.Load() >= 3 },
		3*time.Second, 10*time.Millisecond)
}

func TestDriverRejectsBadSpec(t *testing.T) {
	d := NewDriver(&countingTicker{}, "not a cron spec", logx.Nop())
	assert.Error(t, d.Start(context.Background()))
}

func TestDriverStopHaltsTicks(t *testing.T) {
	tick := &countingTicker{}
	d := NewDriver(tick, "@every 20ms", logx.Nop())
	require.NoError(t, d.Start(context.Background()))

	assert.Eventually(t, func() bool { return tick.ticks.Load() >= 2 },
		2*time.Second, 5*time.Millisecond)
	d.Stop(context.Background())
	after := tick.ticks.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, tick.ticks.Load())
}

func TestDriverApplyChangesSpec(t *testing.T) {
	tick := &countingTicker{}
	d := NewDriver(tick, "@every 1h", logx.Nop())
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	require.NoError(t, d.Apply("@every 20ms"))
	start := tick.ticks.Load()
	assert.Eventually(t, func() bool { return tick.ticks.Load() >= start+2 },
		2*time.Second, 5*time.Millisecond)

	assert.Error(t, d.Apply("still not a spec"))
}
