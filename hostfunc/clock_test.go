package hostfunc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() *Clock {
	return &Clock{Now: func() time.Time {
		return time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)
	}}
}

func TestClockTimeNow(t *testing.T) {
	got, err := fixedClock().TimeNow(context.Background(), nil)
	require.NoError(t, err)
	assert.InDelta(t, 1709647629.0, got, 0.001)
}

func TestClockStrftime(t *testing.T) {
	c := fixedClock()
	ctx := context.Background()

	got, err := c.Strftime(ctx, map[string]any{"format": "%Y-%m-%d %H:%M:%S"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05 14:07:09", got)

	got, err = c.Strftime(ctx, map[string]any{"format": "%Y/%m/%d", "time": float64(0)})
	require.NoError(t, err)
	assert.Equal(t, "1970/01/01", got)
}

func TestClockStrftimeErrors(t *testing.T) {
	c := fixedClock()
	ctx := context.Background()

	_, err := c.Strftime(ctx, map[string]any{})
	assert.Error(t, err)

	_, err = c.Strftime(ctx, map[string]any{"format": "%Y", "time": "yesterday"})
	assert.Error(t, err)
}

func TestRegistryCloneIsIndependent(t *testing.T) {
	base := NewRegistry()
	fixedClock().Register(base)

	clone := base.Clone()
	clone.Register("extra", func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })

	assert.Equal(t, []string{"strftime", "time_now"}, base.List())
	assert.Equal(t, []string{"extra", "strftime", "time_now"}, clone.List())

	_, ok := clone.Get("time_now")
	assert.True(t, ok)
}
