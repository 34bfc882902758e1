package testrail

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testrail/metrics"
)

const (
	DefaultMaxAttempts     = 4
	DefaultLockWait        = 1 * time.Second
	DefaultRateLimitWait   = 10 * time.Second
	DefaultRateLimitFactor = 3
)

// CallerConfig tunes the retry policy. Zero values take the defaults.
type CallerConfig struct {
	Log             log.Logger
	MaxAttempts     int
	LockWait        time.Duration
	RateLimitWait   time.Duration
	RateLimitFactor int

	// Sleep blocks for d. Defaults to time.Sleep.
	Sleep func(d time.Duration)
}

// Caller runs a single remote mutation with bounded, fault-specific retry.
// Lock contention is retried after a fixed short wait, rate limiting after
// an exponentially growing one, and everything else is returned at once.
// Sleeps are not interruptible: once a call sequence starts it runs to
// success, permanent failure or exhaustion.
type Caller struct {
	log           log.Logger
	maxAttempts   int
	lockWait      time.Duration
	rateLimitWait time.Duration
	factor        int
	sleep         func(time.Duration)
	tracer        trace.Tracer
}

func NewCaller(cfg CallerConfig) *Caller {
	c := &Caller{
		log:           cfg.Log,
		maxAttempts:   cfg.MaxAttempts,
		lockWait:      cfg.LockWait,
		rateLimitWait: cfg.RateLimitWait,
		factor:        cfg.RateLimitFactor,
		sleep:         cfg.Sleep,
		tracer:        otel.Tracer("op-testrail/testrail"),
	}
	if c.log == nil {
		c.log = log.Root()
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.lockWait <= 0 {
		c.lockWait = DefaultLockWait
	}
	if c.rateLimitWait <= 0 {
		c.rateLimitWait = DefaultRateLimitWait
	}
	if c.factor <= 0 {
		c.factor = DefaultRateLimitFactor
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
	return c
}

// Call invokes fn until it succeeds, fails permanently, or the attempt
// budget is spent. The last fault observed is returned on exhaustion.
func (c *Caller) Call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "testrail "+op)
	defer span.End()

	wait := c.rateLimitWait
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = fn(ctx)
		metrics.RecordRemoteCall(op, err)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return nil
		}

		kind := KindOf(err)
		if kind == PermanentFault {
			c.log.Error("testrail call failed", "op", op, "attempt", attempt, "err", err)
			break
		}
		if attempt == c.maxAttempts {
			c.log.Error("testrail call exhausted retries", "op", op, "attempts", attempt, "kind", kind, "err", err)
			break
		}

		metrics.RecordRetry(op, kind.String())
		switch kind {
		case TransientServerFault:
			c.log.Warn("testrail lock contention, retrying", "op", op, "attempt", attempt, "wait", c.lockWait)
			c.sleep(c.lockWait)
		case RateLimited:
			c.log.Warn("testrail rate limited, retrying", "op", op, "attempt", attempt, "wait", wait)
			c.sleep(wait)
			wait *= time.Duration(c.factor)
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
