package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Chichichkin/DSMRDatalogger/internal/delivery/api"
	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr"
)

// FanOut hands each telegram to every destination once. A failing
// destination never stops delivery to the others.
type FanOut struct {
	sender       dsmr.Sender
	destinations []dsmr.Destination
	parallel     bool
	logger       *slog.Logger
	onOutcome    func(dsmr.Outcome)
}

type Option func(*FanOut)

// WithOutcomeHook registers a callback that sees every outcome.
func WithOutcomeHook(fn func(dsmr.Outcome)) Option {
	return func(f *FanOut) { f.onOutcome = fn }
}

func New(sender dsmr.Sender, config dsmr.Config, logger *slog.Logger, opts ...Option) *FanOut {
	destinations := make([]dsmr.Destination, len(config.Destinations))
	copy(destinations, config.Destinations)

	f := &FanOut{
		sender:       sender,
		destinations: destinations,
		parallel:     config.Parallel,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Deliver returns one outcome per destination, in configured order.
func (f *FanOut) Deliver(ctx context.Context, telegram dsmr.Telegram) []dsmr.Outcome {
	outcomes := make([]dsmr.Outcome, len(f.destinations))

	if !f.parallel {
		for i, destination := range f.destinations {
			outcomes[i] = f.deliverOne(ctx, telegram, destination)
		}
		return outcomes
	}

	var g errgroup.Group
	for i, destination := range f.destinations {
		g.Go(func() error {
			outcomes[i] = f.deliverOne(ctx, telegram, destination)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (f *FanOut) deliverOne(ctx context.Context, telegram dsmr.Telegram, destination dsmr.Destination) (outcome dsmr.Outcome) {
	outcome.Destination = destination

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("sender panicked: %v", r)
			f.logger.Error("Delivery panicked", "destination", destination.URL, "panic", r)
		}
		if f.onOutcome != nil {
			f.onOutcome(outcome)
		}
	}()

	f.logger.Info("Sending telegram", "destination", destination.URL)

	err := f.sender.Send(ctx, telegram, destination)
	if err == nil {
		return outcome
	}
	outcome.Err = err

	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		outcome.StatusCode = statusErr.StatusCode
		f.logger.Error("API error",
			"destination", destination.URL,
			"status", statusErr.StatusCode,
			"body", statusErr.Body)
		return outcome
	}

	f.logger.Error("Delivery failed", "destination", destination.URL, "error", err)
	return outcome
}
