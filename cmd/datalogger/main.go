package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Chichichkin/DSMRDatalogger/internal/daemon"
	"github.com/Chichichkin/DSMRDatalogger/internal/delivery/api"
	"github.com/Chichichkin/DSMRDatalogger/internal/delivery/fanout"
	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr"
	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr/framer"
	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr/serialport"
	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr/tailfile"
)

// Build variables - set by ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet("datalogger", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (default is "+defaultConfigPath+")")
	flagSet.BoolVar(&showVersion, "version", false, "print version information")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("DSMR datalogger %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg, os.Stderr)
	logger.Info("Starting...", "version", version, "config", cfg.ConfigPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	go func() {
		select {
		case sig := <-signalChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	source, err := openSource(cfg, logger)
	if err != nil {
		return err
	}

	// closing the source unblocks a pending read on shutdown
	var closeOnce sync.Once
	closeSource := func() {
		closeOnce.Do(func() {
			if err := source.Close(); err != nil {
				logger.Warn("Failed to close line source", "error", err)
			}
		})
	}
	defer closeSource()
	go func() {
		<-ctx.Done()
		closeSource()
	}()

	metrics := &daemon.Metrics{}

	telegrams := framer.New(source,
		framer.WithLineHook(metrics.IncLinesRead),
		framer.WithInterruptHook(metrics.IncInterruptedReads),
	)

	deliveryConfig := cfg.deliveryConfig()
	for _, d := range deliveryConfig.Destinations {
		logger.Info("Destination configured", "destination", d.URL)
	}
	deliverer := fanout.New(api.NewSender(deliveryConfig.RequestTimeout), deliveryConfig, logger,
		fanout.WithOutcomeHook(metrics.RecordOutcome))

	datalogger := daemon.NewDatalogger(daemon.Config{
		Sleep:           cfg.Sleep,
		MetricsInterval: cfg.MetricsInterval,
	}, telegrams, deliverer, logger, metrics)

	if err := datalogger.Run(ctx); err != nil {
		return err
	}

	logger.Info("Shutting down...")
	return nil
}

func openSource(cfg appConfig, logger *slog.Logger) (dsmr.LineSource, error) {
	switch cfg.Source {
	case sourceFile:
		logger.Info("Following telegram file", "path", cfg.SourcePath)
		return tailfile.Open(tailfile.Config{Path: cfg.SourcePath})
	default:
		profile := serialport.ProfileFor(cfg.DSMRVersion)
		logger.Info("Opening serial port",
			"port", cfg.SerialPort,
			"profile", profile.Name,
			"baudrate", profile.BaudRate,
			"bytesize", profile.DataBits)
		return serialport.Open(cfg.SerialPort, profile, cfg.ReadTimeout)
	}
}

func newLogger(cfg appConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
