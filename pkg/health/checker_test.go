package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livefeed-service/pkg/common"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(common.NopLogger(), time.Second)
	c.RegisterPinger("storage", pingerFunc(func(context.Context) error { return nil }))
	c.Register("bus", func(context.Context) error { return nil })

	status := c.Check(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	require.Len(t, status.Checks, 2)
	assert.Equal(t, StatusHealthy, status.Checks["storage"].Status)
	assert.True(t, c.IsHealthy(context.Background()))
}

func TestChecker_OneFailureMarksUnhealthy(t *testing.T) {
	c := NewChecker(common.NopLogger(), time.Second)
	c.Register("storage", func(context.Context) error { return nil })
	c.Register("bus", func(context.Context) error { return errors.New("redis down") })

	status := c.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Checks["storage"].Status)
	assert.Equal(t, StatusUnhealthy, status.Checks["bus"].Status)
	assert.Equal(t, "redis down", status.Checks["bus"].Message)
}

func TestChecker_TimeoutApplies(t *testing.T) {
	c := NewChecker(common.NopLogger(), 20*time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Checks["slow"].Message, "deadline")
}

func TestChecker_PanicIsReported(t *testing.T) {
	c := NewChecker(common.NopLogger(), time.Second)
	c.Register("broken", func(context.Context) error { panic("boom") })

	status := c.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Checks["broken"].Message, "boom")
}

func TestChecker_NoChecksIsHealthy(t *testing.T) {
	c := NewChecker(common.NopLogger(), 0)
	assert.True(t, c.IsHealthy(context.Background()))
}
