package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/generator"
	"storyreel/internal/logging"
)

// ErrRateLimitExceeded reports that admission could not be obtained within
// the configured retry budget.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
	defaultMaxAttempts = 8
)

type bucket struct {
	mu sync.Mutex

	tokens           float64
	capacity         float64
	tokensPerMinute  float64
	tokensPerRequest float64
	maxConcurrent    int
	currentRequests  int
	lastRefill       time.Time
}

// Limiter enforces per-provider token and concurrency budgets.
type Limiter struct {
	mu      sync.Mutex
	buckets map[generator.Provider]*bucket

	backoffBase time.Duration
	backoffMax  time.Duration
	maxAttempts int

	logger *slog.Logger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// Option configures optional limiter behavior.
type Option func(*Limiter)

// WithLogger attaches a logger for admission and throttle events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source, useful for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper overrides how admission backoff waits are performed.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// New builds a limiter with one bucket per configured provider. Buckets
// start full.
func New(cfg *config.Config, opts ...Option) *Limiter {
	limiter := &Limiter{
		buckets:     make(map[generator.Provider]*bucket),
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		maxAttempts: defaultMaxAttempts,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	if cfg != nil {
		if cfg.Limiter.BackoffBaseMillis > 0 {
			limiter.backoffBase = time.Duration(cfg.Limiter.BackoffBaseMillis) * time.Millisecond
		}
		if cfg.Limiter.BackoffMaxMillis > 0 {
			limiter.backoffMax = time.Duration(cfg.Limiter.BackoffMaxMillis) * time.Millisecond
		}
		if cfg.Limiter.MaxAttempts > 0 {
			limiter.maxAttempts = cfg.Limiter.MaxAttempts
		}
	}
	for _, opt := range opts {
		opt(limiter)
	}
	if limiter.sleep == nil {
		limiter.sleep = sleepContext
	}
	if cfg != nil {
		for name, settings := range cfg.Providers {
			provider, err := generator.ParseProvider(name)
			if err != nil {
				continue
			}
			limiter.buckets[provider] = newBucket(settings, limiter.now())
		}
	}
	return limiter
}

func newBucket(settings config.Provider, now time.Time) *bucket {
	capacity := float64(settings.TokensPerMinute)
	if capacity <= 0 {
		capacity = math.Inf(1)
	}
	perRequest := float64(settings.TokensPerRequest)
	if perRequest < 0 {
		perRequest = 0
	}
	maxConcurrent := settings.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &bucket{
		tokens:           capacity,
		capacity:         capacity,
		tokensPerMinute:  float64(settings.TokensPerMinute),
		tokensPerRequest: perRequest,
		maxConcurrent:    maxConcurrent,
		lastRefill:       now,
	}
}

// EnsureProvider installs a bucket for a provider that has no configured
// limits, admitting single-flight requests with no token cost.
func (l *Limiter) EnsureProvider(provider generator.Provider) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets[provider]; !ok {
		l.buckets[provider] = newBucket(config.Provider{MaxConcurrentRequests: 1}, l.now())
	}
}

func (l *Limiter) bucketFor(provider generator.Provider) (*bucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[provider]
	if !ok {
		return nil, fmt.Errorf("no rate limit bucket for provider %q", provider)
	}
	return b, nil
}

// refillLocked tops up the bucket with floor(elapsedMinutes × rate) tokens.
// lastRefill only advances by the time those whole tokens cost, so the
// fractional remainder stays banked for the next call.
func (b *bucket) refillLocked(now time.Time) {
	if b.tokensPerMinute <= 0 {
		return
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	grant := math.Floor(elapsed.Minutes() * b.tokensPerMinute)
	if grant < 1 {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+grant)
	consumed := time.Duration(grant / b.tokensPerMinute * float64(time.Minute))
	b.lastRefill = b.lastRefill.Add(consumed)
}

// tryAdmit attempts to reserve one request slot plus its token cost.
func (b *bucket) tryAdmit(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.currentRequests >= b.maxConcurrent {
		return false
	}
	if b.tokens < b.tokensPerRequest {
		return false
	}
	b.tokens -= b.tokensPerRequest
	b.currentRequests++
	return true
}

func (b *bucket) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentRequests > 0 {
		b.currentRequests--
	}
}

// penalize halves the remaining tokens after a provider-side throttle, so
// subsequent admissions slow down even before the next refill.
func (b *bucket) penalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = math.Floor(b.tokens / 2)
}

// Execute runs task under the provider's admission budget. Admission is
// retried with exponential backoff; after the retry budget is spent the call
// fails with ErrRateLimitExceeded. A task failure classified as throttled
// penalizes the bucket before the error is returned.
func (l *Limiter) Execute(ctx context.Context, provider generator.Provider, task func(context.Context) error) error {
	b, err := l.bucketFor(provider)
	if err != nil {
		return err
	}

	admitted := false
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.tryAdmit(l.now()) {
			admitted = true
			break
		}
		if attempt == l.maxAttempts {
			break
		}
		delay := l.backoffDelay(attempt)
		l.logger.Debug("rate limit admission deferred",
			logging.String(logging.FieldProvider, provider.String()),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
		)
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
	if !admitted {
		return fmt.Errorf("%w: provider %s admission failed after %d attempts", ErrRateLimitExceeded, provider, l.maxAttempts)
	}
	defer b.release()

	err = task(ctx)
	if err != nil && generator.KindOf(err) == generator.KindThrottled {
		b.penalize()
		l.logger.Warn("provider throttled, penalizing token bucket",
			logging.String(logging.FieldProvider, provider.String()),
		)
	}
	return err
}

// Snapshot reports the current state of one bucket for status output.
func (l *Limiter) Snapshot(provider generator.Provider) (BucketState, bool) {
	l.mu.Lock()
	b, ok := l.buckets[provider]
	l.mu.Unlock()
	if !ok {
		return BucketState{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(l.now())
	return BucketState{
		Tokens:          b.tokens,
		Capacity:        b.capacity,
		CurrentRequests: b.currentRequests,
		MaxConcurrent:   b.maxConcurrent,
	}, true
}

// BucketState is a point-in-time view of one provider bucket.
type BucketState struct {
	Tokens          float64
	Capacity        float64
	CurrentRequests int
	MaxConcurrent   int
}

func (l *Limiter) backoffDelay(attempt int) time.Duration {
	delay := l.backoffBase
	for i := 1; i < attempt; i++ {
		if delay > l.backoffMax/2 {
			return l.backoffMax
		}
		delay *= 2
	}
	if delay > l.backoffMax {
		return l.backoffMax
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
