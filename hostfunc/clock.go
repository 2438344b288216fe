package hostfunc

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Clock provides time_now and strftime. Now is replaceable for tests.
type Clock struct {
	Now func() time.Time
}

func NewClock() *Clock {
	return &Clock{Now: time.Now}
}

// Register adds time_now and strftime to registry.
func (c *Clock) Register(registry *Registry) {
	registry.Register("time_now", c.TimeNow)
	registry.Register("strftime", c.Strftime)
}

// TimeNow returns seconds since the Unix epoch as a float.
func (c *Clock) TimeNow(ctx context.Context, args map[string]any) (any, error) {
	return float64(c.Now().UnixNano()) / 1e9, nil
}

// Strftime formats args["time"] (seconds since epoch, default now) with the
// C-style pattern in args["format"].
func (c *Clock) Strftime(ctx context.Context, args map[string]any) (any, error) {
	format, ok := args["format"].(string)
	if !ok || format == "" {
		return nil, errors.New("format required")
	}

	t := c.Now()
	if raw, ok := args["time"]; ok && raw != nil {
		secs, ok := toFloat(raw)
		if !ok {
			return nil, errors.New("time must be a number")
		}
		whole, frac := math.Modf(secs)
		t = time.Unix(int64(whole), int64(frac*1e9)).In(t.Location())
	}

	return strftime.Format(format, t)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
