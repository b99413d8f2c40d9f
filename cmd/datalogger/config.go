package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Chichichkin/DSMRDatalogger/internal/delivery/api"
	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr"
	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr/serialport"
)

const (
	defaultSerialPort      = "/dev/ttyUSB0"
	defaultHost            = "127.0.0.1"
	defaultAPIKey          = "APIKEY-BLABLABLA-ABCDEFGHI"
	defaultDSMRVersion     = "4"
	defaultSleep           = 500 * time.Millisecond
	defaultRequestTimeout  = api.DefaultTimeout
	defaultReadTimeout     = serialport.DefaultReadTimeout
	defaultMetricsInterval = 5 * time.Minute
	defaultConfigPath      = "/etc/dsmr-datalogger/config.yml"

	apiPath = "/api/v1/datalogger/dsmrreading"

	sourceSerial = "serial"
	sourceFile   = "file"
)

type destinationConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api-key"`
}

type appConfig struct {
	SerialPort       string              `mapstructure:"serial-port"`
	DSMRVersion      string              `mapstructure:"dsmr-version"`
	ReadTimeout      time.Duration       `mapstructure:"read-timeout"`
	Host             string              `mapstructure:"host"`
	APIKey           string              `mapstructure:"api-key"`
	Destinations     []destinationConfig `mapstructure:"destinations"`
	DestinationList  string              `mapstructure:"destination-list"` // url=key,url=key
	Sleep            time.Duration       `mapstructure:"sleep"`
	RequestTimeout   time.Duration       `mapstructure:"request-timeout"`
	ParallelDelivery bool                `mapstructure:"parallel-delivery"`
	Source           string              `mapstructure:"source"`
	SourcePath       string              `mapstructure:"source-path"`
	MetricsInterval  time.Duration       `mapstructure:"metrics-interval"`
	LogLevel         string              `mapstructure:"log-level"`
	LogFormat        string              `mapstructure:"log-format"`
	ConfigPath       string              `mapstructure:"-"`
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	v := viper.New()
	v.SetEnvPrefix("DSMR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// names used by existing datalogger installs
	_ = v.BindEnv("serial-port", "DSMR_SERIAL_PORT", "DSMR_SERIALPORT")
	_ = v.BindEnv("dsmr-version", "DSMR_DSMR_VERSION", "DSMR_DSMVER")
	_ = v.BindEnv("api-key", "DSMR_API_KEY", "DSMR_APIKEY")

	v.SetDefault("serial-port", defaultSerialPort)
	v.SetDefault("dsmr-version", defaultDSMRVersion)
	v.SetDefault("read-timeout", defaultReadTimeout)
	v.SetDefault("host", defaultHost)
	v.SetDefault("api-key", defaultAPIKey)
	v.SetDefault("sleep", defaultSleep)
	v.SetDefault("request-timeout", defaultRequestTimeout)
	v.SetDefault("parallel-delivery", false)
	v.SetDefault("source", sourceSerial)
	v.SetDefault("source-path", "")
	v.SetDefault("destination-list", "")
	v.SetDefault("metrics-interval", defaultMetricsInterval)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")

	explicit := configPath != ""
	if !explicit {
		configPath = defaultConfigPath
	}
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &configFileNotFound) || os.IsNotExist(err) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return cfg, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if cfg.DestinationList != "" {
		extra, err := parseDestinationList(cfg.DestinationList)
		if err != nil {
			return cfg, err
		}
		cfg.Destinations = append(cfg.Destinations, extra...)
	}

	if len(cfg.Destinations) == 0 {
		cfg.Destinations = []destinationConfig{{
			URL:    "http://" + cfg.Host + apiPath,
			APIKey: cfg.APIKey,
		}}
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (cfg appConfig) validate() error {
	for i, d := range cfg.Destinations {
		u, err := url.Parse(d.URL)
		if err != nil {
			return fmt.Errorf("invalid destination %d: %w", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid destination %d: unsupported scheme %q", i, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid destination %d: missing host", i)
		}
	}

	switch cfg.Source {
	case sourceSerial:
		if cfg.SerialPort == "" {
			return fmt.Errorf("serial-port is required for source %q", sourceSerial)
		}
	case sourceFile:
		if cfg.SourcePath == "" {
			return fmt.Errorf("source-path is required for source %q", sourceFile)
		}
	default:
		return fmt.Errorf("invalid source: %q", cfg.Source)
	}

	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request-timeout: %s", cfg.RequestTimeout)
	}
	if cfg.Sleep < 0 {
		return fmt.Errorf("invalid sleep: %s", cfg.Sleep)
	}
	return nil
}

// parseDestinationList reads "url=key" pairs separated by commas.
func parseDestinationList(list string) ([]destinationConfig, error) {
	var destinations []destinationConfig
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		rawURL, key, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid destination %q: expected url=key", entry)
		}
		destinations = append(destinations, destinationConfig{
			URL:    strings.TrimSpace(rawURL),
			APIKey: strings.TrimSpace(key),
		})
	}
	return destinations, nil
}

func (cfg appConfig) deliveryConfig() dsmr.Config {
	destinations := make([]dsmr.Destination, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		destinations = append(destinations, dsmr.Destination{URL: d.URL, APIKey: d.APIKey})
	}
	return dsmr.Config{
		Destinations:   destinations,
		RequestTimeout: cfg.RequestTimeout,
		Parallel:       cfg.ParallelDelivery,
	}
}
