package llm

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type retryingClient struct {
	inner Client
	cfg   RetryConfig
	rnd   *rand.Rand
}

func WithRetry(inner Client, cfg RetryConfig) Client {
	if inner == nil {
		return inner
	}
	if cfg.MaxRetries <= 0 {
		return inner
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &retryingClient{
		inner: inner,
		cfg:   cfg,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *retryingClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Non-transient faults (bad request, auth, cancellation) skip the
		// remaining attempts entirely.
		if !isRetryableLLMError(err) {
			return nil, err
		}

		// Out of attempts — fall through to the lastErr return below.
		if attempt == c.cfg.MaxRetries {
			break
		}

		sleep := c.backoffForAttempt(attempt)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}

func (c *retryingClient) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	// Mid-stream retries would need to replay partial output; not attempted here.
	return c.inner.Stream(ctx, req)
}

func (c *retryingClient) ModelInfo() *ModelInfo {
	return c.inner.ModelInfo()
}

func (c *retryingClient) Ping(ctx context.Context) error {
	// A single health check isn't worth a backoff loop.
	return c.inner.Ping(ctx)
}

func (c *retryingClient) Close() error {
	return c.inner.Close()
}

func (c *retryingClient) backoffForAttempt(attempt int) time.Duration {
	// Doubles per attempt up to MaxBackoff, then randomizes by up to 20%
	// either way so concurrent retries don't all land on the same tick.
	backoff := c.cfg.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
			break
		}
	}
	if backoff <= 0 {
		backoff = 1 * time.Second
	}
	if backoff > c.cfg.MaxBackoff {
		backoff = c.cfg.MaxBackoff
	}

	jitterFrac := (c.rnd.Float64()*0.4 - 0.2) // uniform in [-0.2, +0.2]
	jitter := time.Duration(float64(backoff) * jitterFrac)

	sleep := backoff + jitter
	if sleep < 0 {
		sleep = 0
	}
	return sleep
}

func isRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}

	// A caller-cancelled or timed-out request won't succeed on replay.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())

	// Provider clients surface HTTP failures as "API error <code>: ..." or
	// "status <code>"; a 4xx means the request itself is bad, so retrying
	// it unchanged just wastes the budget.
	if strings.Contains(msg, "api error 4") {
		return false
	}
	if strings.Contains(msg, "status 4") {
		return false
	}
	if strings.Contains(msg, " 400") || strings.Contains(msg, " 401") || strings.Contains(msg, " 403") || strings.Contains(msg, " 404") {
		return false
	}

	// Everything else (network blips, 5xx, a flaky relay) is worth one more try.
	return true
}