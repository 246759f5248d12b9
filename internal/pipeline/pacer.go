package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer is a token bucket: up to burst immediate passes, then one pass per
// interval. A non-positive interval never waits.
type Pacer struct {
	lim *rate.Limiter
}

func NewPacer(interval time.Duration, burst int) *Pacer {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{lim: rate.NewLimiter(limit, burst)}
}

func (p *Pacer) Wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}
