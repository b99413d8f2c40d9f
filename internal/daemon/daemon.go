package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr"
)

type Config struct {
	// Pause after a telegram has been offered to every destination.
	Sleep time.Duration
	// If > 0, log a metrics summary at this interval
	MetricsInterval time.Duration
}

// Datalogger pulls telegrams one at a time and delivers each one before
// reading the next.
type Datalogger struct {
	config    Config
	source    dsmr.TelegramSource
	deliverer dsmr.Deliverer
	logger    *slog.Logger
	metrics   *Metrics
}

func NewDatalogger(config Config, source dsmr.TelegramSource, deliverer dsmr.Deliverer, logger *slog.Logger, metrics *Metrics) *Datalogger {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Datalogger{
		config:    config,
		source:    source,
		deliverer: deliverer,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run blocks until ctx is cancelled (nil is returned) or the telegram source
// fails (its error is returned).
func (d *Datalogger) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.loop(gctx)
	})

	if d.config.MetricsInterval > 0 {
		g.Go(func() error {
			d.metricsReporter(gctx)
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (d *Datalogger) loop(ctx context.Context) error {
	for {
		telegram, err := d.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("Telegram source failed", "error", err)
			return fmt.Errorf("telegram source: %w", err)
		}

		d.metrics.IncTelegramsFramed()
		d.logger.Info("Telegram read", "bytes", len(telegram))

		d.deliverer.Deliver(ctx, telegram)

		if !d.sleep(ctx) {
			return ctx.Err()
		}
	}
}

// sleep waits for the inter-cycle pause. It returns false if ctx ended first.
func (d *Datalogger) sleep(ctx context.Context) bool {
	if d.config.Sleep <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d.config.Sleep)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Datalogger) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(d.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := d.metrics.GetMetricsStamp()
			d.logger.Info("Metrics",
				"lines_read", metrics.LinesRead,
				"interrupted_reads", metrics.InterruptedReads,
				"telegrams", metrics.TelegramsFramed,
				"delivered", metrics.DeliveriesSucceeded,
				"failed", metrics.DeliveriesFailed,
				"failure_pct", int(d.metrics.GetFailureRate()*100),
			)

		case <-ctx.Done():
			return
		}
	}
}
