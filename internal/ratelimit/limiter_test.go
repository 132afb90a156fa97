package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/generator"
	"storyreel/internal/ratelimit"
	"storyreel/internal/testsupport"
)

func limiterConfig(t *testing.T, provider config.Provider) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t,
		testsupport.WithProvider("openai", provider),
		testsupport.WithLimiter(config.Limiter{BackoffBaseMillis: 1, BackoffMaxMillis: 2, MaxAttempts: 1}),
	)
}

func TestBurstAdmitsOnlyTokenBudget(t *testing.T) {
	budget := 10
	cfg := limiterConfig(t, config.Provider{
		TokensPerMinute:       budget,
		TokensPerRequest:      1,
		MaxConcurrentRequests: budget + 10,
	})
	limiter := ratelimit.New(cfg)
	ctx := context.Background()

	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < budget+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Execute(ctx, generator.ProviderOpenAI, func(context.Context) error {
				admitted.Add(1)
				return nil
			})
			if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
				rejected.Add(1)
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := int(admitted.Load()); got != budget {
		t.Fatalf("expected %d admitted, got %d", budget, got)
	}
	if got := int(rejected.Load()); got != 5 {
		t.Fatalf("expected 5 deferred, got %d", got)
	}
}

func TestRefillFloorsTokenProduct(t *testing.T) {
	cfg := limiterConfig(t, config.Provider{
		TokensPerMinute:       2,
		TokensPerRequest:      1,
		MaxConcurrentRequests: 10,
	})

	now := time.Now()
	clock := func() time.Time { return now }
	limiter := ratelimit.New(cfg, ratelimit.WithClock(func() time.Time { return clock() }))
	ctx := context.Background()

	run := func() error {
		return limiter.Execute(ctx, generator.ProviderOpenAI, func(context.Context) error { return nil })
	}

	if err := run(); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := run(); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if err := run(); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("expected exhausted bucket, got %v", err)
	}

	// 10s at 2 tokens/min earns a third of a token: floor(1/3) = 0.
	clock = func() time.Time { return now.Add(10 * time.Second) }
	if err := run(); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("expected fractional earnings to stay banked, got %v", err)
	}

	// 30s earns exactly one token: floor(2 × 0.5) = 1.
	clock = func() time.Time { return now.Add(30 * time.Second) }
	if err := run(); err != nil {
		t.Fatalf("expected one-token refill after half a minute, got %v", err)
	}
	if err := run(); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("expected single-token grant to be spent, got %v", err)
	}

	// A further full minute restores the whole capacity.
	clock = func() time.Time { return now.Add(90 * time.Second) }
	if err := run(); err != nil {
		t.Fatalf("expected refilled bucket to admit, got %v", err)
	}
	if err := run(); err != nil {
		t.Fatalf("expected second token after full refill, got %v", err)
	}
	if err := run(); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("expected capacity cap to hold, got %v", err)
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	cfg := limiterConfig(t, config.Provider{
		TokensPerMinute:       100,
		TokensPerRequest:      1,
		MaxConcurrentRequests: 2,
	})
	limiter := ratelimit.New(cfg)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Execute(ctx, generator.ProviderOpenAI, func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	// Both slots busy: a third call must be deferred and fail fast.
	err := limiter.Execute(ctx, generator.ProviderOpenAI, func(context.Context) error { return nil })
	if !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("expected concurrency rejection, got %v", err)
	}

	close(release)
	wg.Wait()

	// Slots released: admission succeeds again.
	if err := limiter.Execute(ctx, generator.ProviderOpenAI, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected admission after release, got %v", err)
	}
}

func TestThrottlePenaltyHalvesTokens(t *testing.T) {
	cfg := limiterConfig(t, config.Provider{
		TokensPerMinute:       8,
		TokensPerRequest:      1,
		MaxConcurrentRequests: 10,
	})
	limiter := ratelimit.New(cfg)
	ctx := context.Background()

	throttle := &generator.ProviderError{
		Provider: generator.ProviderOpenAI,
		Kind:     generator.KindThrottled,
		Message:  "slow down",
	}
	err := limiter.Execute(ctx, generator.ProviderOpenAI, func(context.Context) error { return throttle })
	if !errors.Is(err, throttle) {
		t.Fatalf("expected task error surfaced, got %v", err)
	}

	state, ok := limiter.Snapshot(generator.ProviderOpenAI)
	if !ok {
		t.Fatal("expected bucket snapshot")
	}
	// 8 tokens, one spent on admission, remainder halved: 3.
	if state.Tokens != 3 {
		t.Fatalf("expected penalized bucket at 3 tokens, got %v", state.Tokens)
	}
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	cfg := limiterConfig(t, config.Provider{
		TokensPerMinute:       1,
		TokensPerRequest:      1,
		MaxConcurrentRequests: 1,
	})
	limiter := ratelimit.New(cfg, ratelimit.WithSleeper(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := limiter.Execute(ctx, generator.ProviderOpenAI, func(context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestUnknownProviderFails(t *testing.T) {
	limiter := ratelimit.New(testsupport.NewConfig(t))
	err := limiter.Execute(context.Background(), generator.Provider("nobody"), func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
