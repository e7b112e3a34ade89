package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Tyrowin/gochat-rooms/internal/logging"
	"github.com/Tyrowin/gochat-rooms/internal/metrics"
)

// PoolConfig sizes the worker pool and its circuit breaker.
type PoolConfig struct {
	Workers   int
	QueueSize int

	// BreakerFailures is the number of consecutive failures that opens the
	// breaker; BreakerTimeout is how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultPoolConfig returns the pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:         4,
		QueueSize:       256,
		BreakerFailures: 5,
		BreakerTimeout:  10 * time.Second,
	}
}

type job struct {
	ctx  context.Context
	op   string
	run  func(ctx context.Context) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Pool runs store calls on a fixed set of worker goroutines so that slow
// queries never execute on a connection's own goroutine. Pool implements
// Store; calls block until a worker finishes or the caller's ctx is done.
type Pool struct {
	backend Store
	workers int
	jobs    chan job
	breaker *gobreaker.CircuitBreaker[any]
}

var _ Store = (*Pool)(nil)

// NewPool wraps backend. Serve must be running for calls to complete.
func NewPool(backend Store, cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "store",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store circuit breaker state change")
		},
	})

	return &Pool{
		backend: backend,
		workers: cfg.Workers,
		jobs:    make(chan job, cfg.QueueSize),
		breaker: breaker,
	}
}

// Serve runs the workers until ctx is done. It implements suture.Service.
func (p *Pool) Serve(ctx context.Context) error {
	errCh := make(chan struct{}, p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer func() { errCh <- struct{}{} }()
			p.work(ctx)
		}()
	}
	logging.Info().Int("workers", p.workers).Msg("store worker pool started")

	for i := 0; i < p.workers; i++ {
		<-errCh
	}
	logging.Info().Msg("store worker pool stopped")
	return ctx.Err()
}

func (p *Pool) String() string {
	return "store-pool"
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			metrics.StoreQueueDepth.Set(float64(len(p.jobs)))
			if err := j.ctx.Err(); err != nil {
				j.done <- result{err: err}
				continue
			}
			value, err := p.breaker.Execute(func() (any, error) {
				return j.run(j.ctx)
			})
			j.done <- result{value: value, err: err}
		}
	}
}

// submit queues run and waits for its result.
func submit[T any](ctx context.Context, p *Pool, op string, run func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	defer func() {
		metrics.StoreCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	j := job{
		ctx: ctx,
		op:  op,
		run: func(ctx context.Context) (any, error) {
			return run(ctx)
		},
		done: make(chan result, 1),
	}

	select {
	case p.jobs <- j:
		metrics.StoreQueueDepth.Set(float64(len(p.jobs)))
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-j.done:
		if res.err != nil {
			if !errors.Is(res.err, ErrNotFound) {
				metrics.StoreCallErrors.WithLabelValues(op).Inc()
			}
			return zero, fmt.Errorf("%s: %w", op, res.err)
		}
		value, _ := res.value.(T)
		return value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// RoomBySlug implements Store.
func (p *Pool) RoomBySlug(ctx context.Context, slug string) (Room, error) {
	return submit(ctx, p, "room_by_slug", func(ctx context.Context) (Room, error) {
		return p.backend.RoomBySlug(ctx, slug)
	})
}

// Membership implements Store.
func (p *Pool) Membership(ctx context.Context, slug string, userID int64) (Membership, error) {
	return submit(ctx, p, "membership", func(ctx context.Context) (Membership, error) {
		return p.backend.Membership(ctx, slug, userID)
	})
}

// CreateMessage implements Store.
func (p *Pool) CreateMessage(ctx context.Context, msg NewMessage) (Message, error) {
	return submit(ctx, p, "create_message", func(ctx context.Context) (Message, error) {
		return p.backend.CreateMessage(ctx, msg)
	})
}

// LastMessages implements Store.
func (p *Pool) LastMessages(ctx context.Context, slug string, limit int) ([]Message, error) {
	return submit(ctx, p, "last_messages", func(ctx context.Context) ([]Message, error) {
		return p.backend.LastMessages(ctx, slug, limit)
	})
}

// Members implements Store.
func (p *Pool) Members(ctx context.Context, slug string) ([]Member, error) {
	return submit(ctx, p, "members", func(ctx context.Context) ([]Member, error) {
		return p.backend.Members(ctx, slug)
	})
}
