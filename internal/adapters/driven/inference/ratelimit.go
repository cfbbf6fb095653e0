package inference

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/logger"
)

// defaultBackoff is used when a 429 carries no Retry-After header.
const defaultBackoff = 30 * time.Second

// RateLimiter is a token bucket with server-requested backoff.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing perSecond calls with burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:     time.Now,
	}
}

// Wait blocks until a call can be made without exceeding the rate limit.
// It also respects any backoff period set by Backoff.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := retryAt.Sub(r.now()); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return r.limiter.Wait(ctx)
}

// Backoff pauses all callers for d, or defaultBackoff when d is zero.
func (r *RateLimiter) Backoff(d time.Duration) {
	if d <= 0 {
		d = defaultBackoff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := r.now().Add(d); until.After(r.retryAt) {
		r.retryAt = until
		logger.Warn("inference: rate limited, backing off %s", d)
	}
}

// Allow reports whether a call may proceed immediately, consuming a token
// if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if r.now().Before(retryAt) {
		return false
	}
	return r.limiter.Allow()
}

// ThrottledPredictor admits inference calls through a RateLimiter.
type ThrottledPredictor struct {
	next    driven.Predictor
	limiter *RateLimiter
}

var _ driven.Predictor = (*ThrottledPredictor)(nil)

// NewThrottledPredictor wraps next. A non-positive rate disables
// throttling and returns next unchanged.
func NewThrottledPredictor(next driven.Predictor, perSecond float64, burst int) driven.Predictor {
	if perSecond <= 0 {
		return next
	}
	return &ThrottledPredictor{next: next, limiter: NewRateLimiter(perSecond, burst)}
}

// Infer waits for admission, then delegates. A rate-limited response
// pauses later callers for the server's Retry-After.
func (p *ThrottledPredictor) Infer(
	ctx context.Context,
	features domain.Features,
	constraints domain.ResolvedConstraintSet,
	precision domain.EffectivePrecision,
	config domain.ModelConfig,
	seed int64,
) (domain.Prediction, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Prediction{}, err
	}
	pred, err := p.next.Infer(ctx, features, constraints, precision, config, seed)
	if err != nil && IsRateLimited(err) {
		p.limiter.Backoff(RetryAfter(err))
	}
	return pred, err
}
