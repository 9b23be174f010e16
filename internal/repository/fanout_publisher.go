package repository

import (
	"context"
	"errors"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
)

// FanoutPublisher delivers each signal to every publisher. One failing target
// does not stop the others; their errors are joined.
type FanoutPublisher struct {
	targets []domrepo.SignalPublisher
}

func NewFanoutPublisher(targets ...domrepo.SignalPublisher) *FanoutPublisher {
	out := make([]domrepo.SignalPublisher, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			out = append(out, t)
		}
	}
	return &FanoutPublisher{targets: out}
}

var _ domrepo.SignalPublisher = (*FanoutPublisher)(nil)

func (f *FanoutPublisher) PublishSignal(ctx context.Context, s models.TradingSignal) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.PublishSignal(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FanoutPublisher) Close() error {
	var errs []error
	for _, t := range f.targets {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
