package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"MarketCascade/internal/domain/repository"
	applogger "MarketCascade/pkg/logger"
)

// Task is one pass. It must check ctx before publishing its output.
type Task func(ctx context.Context) error

// Run results recorded in metrics.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultPanic   = "panic"

	SkipInFlight = "in_flight"
	SkipLocked   = "locked"
)

// ErrSkipped is returned by Run when the pass did not execute.
var ErrSkipped = errors.New("pass skipped")

// Runner executes a Task single-flight with a per-run timeout.
type Runner struct {
	name    string
	task    Task
	timeout time.Duration
	running atomic.Bool
	skipped atomic.Int64

	lock    Locker
	metrics repository.Metrics
	l       *applogger.Logger
}

type Option func(*Runner)

// WithLock makes the runner acquire a lock keyed by pass name before each run.
func WithLock(lk Locker) Option { return func(r *Runner) { r.lock = lk } }

func WithMetrics(m repository.Metrics) Option { return func(r *Runner) { r.metrics = m } }

func WithLogger(l *applogger.Logger) Option { return func(r *Runner) { r.l = l } }

func NewRunner(name string, timeout time.Duration, task Task, opts ...Option) *Runner {
	r := &Runner{name: name, task: task, timeout: timeout}
	for _, opt := range opts {
		opt(r)
	}
	if r.l != nil {
		r.l = r.l.With(applogger.String("pass", name))
	}
	return r
}

func (r *Runner) Name() string { return r.name }

// Skipped counts triggers that found a run in progress or the lock taken.
func (r *Runner) Skipped() int64 { return r.skipped.Load() }

// Run executes the task once. A trigger while a run is in flight returns ErrSkipped
// without waiting.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		r.skip(SkipInFlight)
		return ErrSkipped
	}
	defer r.running.Store(false)

	if r.lock != nil {
		key := lockKey(r.name)
		token, ok, err := r.lock.TryLock(ctx, key, lockTTL(r.timeout))
		if err != nil {
			return fmt.Errorf("lock pass %s: %w", r.name, err)
		}
		if !ok {
			r.skip(SkipLocked)
			return ErrSkipped
		}
		defer func() {
			if err := r.lock.Unlock(context.Background(), key, token); err != nil && r.l != nil {
				r.l.Warn("pass unlock failed", applogger.Error(err))
			}
		}()
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := r.safeRun(runCtx)
	elapsed := time.Since(start)

	result := ResultOK
	var pe *panicError
	switch {
	case errors.As(err, &pe):
		result = ResultPanic
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result = ResultTimeout
	case err != nil:
		result = ResultError
	}
	if r.metrics != nil {
		r.metrics.RecordPass(r.name, result, elapsed.Seconds())
	}
	if r.l != nil {
		fields := []applogger.Field{
			applogger.String("result", result),
			applogger.Duration("duration", elapsed),
		}
		if err != nil {
			r.l.Error("pass failed", append(fields, applogger.Error(err))...)
		} else {
			r.l.Debug("pass done", fields...)
		}
	}
	if result == ResultTimeout && err == nil {
		err = fmt.Errorf("pass %s: %w", r.name, context.DeadlineExceeded)
	}
	return err
}

type panicError struct{ v interface{} }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.v) }

func (r *Runner) safeRun(ctx context.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{v: v}
		}
	}()
	return r.task(ctx)
}

func (r *Runner) skip(reason string) {
	r.skipped.Add(1)
	if r.metrics != nil {
		r.metrics.RecordSkip(r.name, reason)
	}
	if r.l != nil {
		r.l.Warn("pass skipped", applogger.String("reason", reason))
	}
}
