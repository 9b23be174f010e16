package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"MarketCascade/internal/domain/models"
	applogger "MarketCascade/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers runners on cron specs. Stop cancels in-flight runs.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	l      *applogger.Logger

	mu      sync.Mutex
	runners map[string]*Runner
}

func New(l *applogger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{l: l}))),
		ctx:     ctx,
		cancel:  cancel,
		l:       l,
		runners: make(map[string]*Runner),
	}
}

// Register schedules r on a cron expression, e.g. "@every 5m". An empty schedule
// registers the pass for Trigger only.
func (s *Scheduler) Register(schedule string, r *Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.runners[r.Name()]; dup {
		return fmt.Errorf("pass %s already registered", r.Name())
	}
	if schedule != "" {
		if _, err := s.cron.AddFunc(schedule, func() { _ = r.Run(s.ctx) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", r.Name(), schedule, err)
		}
	}
	s.runners[r.Name()] = r
	if s.l != nil {
		s.l.Info("pass registered", applogger.String("pass", r.Name()), applogger.String("schedule", schedule))
	}
	return nil
}

// Trigger runs a registered pass now, outside its schedule. It returns ErrSkipped
// when the pass is already running or locked elsewhere.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	r, ok := s.runners[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("pass %q: %w", name, models.ErrNotFound)
	}
	return r.Run(ctx)
}

// Passes lists registered pass names.
func (s *Scheduler) Passes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.runners))
	for name := range s.runners {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops triggering, cancels running passes and waits for them or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct{ l *applogger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if c.l != nil {
		c.l.Debug("cron: "+msg, applogger.Any("kv", keysAndValues))
	}
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if c.l != nil {
		c.l.Error("cron: "+msg, applogger.Error(err), applogger.Any("kv", keysAndValues))
	}
}
