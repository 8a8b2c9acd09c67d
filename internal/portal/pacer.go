package portal

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out page actions and keystrokes. Actions share a token
// bucket; keystrokes sleep a jittered typing delay.
type Pacer struct {
	limiter *rate.Limiter
	typing  time.Duration
}

// NewPacer creates a pacer. A non-positive rate disables action pacing and
// a zero typing delay disables keystroke pacing.
func NewPacer(actionsPerSecond float64, typingDelay time.Duration) *Pacer {
	limit := rate.Inf
	if actionsPerSecond > 0 {
		limit = rate.Limit(actionsPerSecond)
	}
	return &Pacer{
		limiter: rate.NewLimiter(limit, 1),
		typing:  typingDelay,
	}
}

// Wait blocks until the next action may run.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// KeystrokeDelay returns the pause after one typed character, between half
// and one and a half times the configured delay.
func (p *Pacer) KeystrokeDelay() time.Duration {
	if p.typing <= 0 {
		return 0
	}
	return p.typing/2 + time.Duration(rand.Int64N(int64(p.typing)+1))
}
