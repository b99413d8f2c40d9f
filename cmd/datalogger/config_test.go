package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.SerialPort)
	assert.Equal(t, "4", cfg.DSMRVersion)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, sourceSerial, cfg.Source)
	require.Len(t, cfg.Destinations, 1)
	assert.Equal(t, "http://127.0.0.1/api/v1/datalogger/dsmrreading", cfg.Destinations[0].URL)
	assert.Equal(t, defaultAPIKey, cfg.Destinations[0].APIKey)
}

func TestLoadConfig_LegacyEnv(t *testing.T) {
	t.Setenv("DSMR_SERIALPORT", "/dev/ttyAMA0")
	t.Setenv("DSMR_HOST", "dsmr.local:8000")
	t.Setenv("DSMR_APIKEY", "legacy-key")
	t.Setenv("DSMR_DSMVER", "2")
	t.Setenv("DSMR_SLEEP", "2s")

	cfg, err := loadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", cfg.SerialPort)
	assert.Equal(t, "2", cfg.DSMRVersion)
	assert.Equal(t, 2*time.Second, cfg.Sleep)
	require.Len(t, cfg.Destinations, 1)
	assert.Equal(t, "http://dsmr.local:8000/api/v1/datalogger/dsmrreading", cfg.Destinations[0].URL)
	assert.Equal(t, "legacy-key", cfg.Destinations[0].APIKey)
}

func TestLoadConfig_FileDestinations(t *testing.T) {
	path := writeConfig(t, `
destinations:
  - url: http://one/api/v1/datalogger/dsmrreading
    api-key: key-1
  - url: https://two/api/v1/datalogger/dsmrreading
    api-key: key-2
parallel-delivery: true
request-timeout: 10s
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigPath)
	assert.True(t, cfg.ParallelDelivery)

	delivery := cfg.deliveryConfig()
	require.Len(t, delivery.Destinations, 2)
	assert.Equal(t, "http://one/api/v1/datalogger/dsmrreading", delivery.Destinations[0].URL)
	assert.Equal(t, "key-2", delivery.Destinations[1].APIKey)
	assert.Equal(t, 10*time.Second, delivery.RequestTimeout)
	assert.True(t, delivery.Parallel)
}

func TestLoadConfig_DestinationListEnv(t *testing.T) {
	t.Setenv("DSMR_DESTINATION_LIST", "http://a/api=ka, http://b/api=kb")

	cfg, err := loadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	require.Len(t, cfg.Destinations, 2)
	assert.Equal(t, destinationConfig{URL: "http://a/api", APIKey: "ka"}, cfg.Destinations[0])
	assert.Equal(t, destinationConfig{URL: "http://b/api", APIKey: "kb"}, cfg.Destinations[1])
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "source: carrier-pigeon\n"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "source: file\n"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "destinations:\n  - url: ftp://x/\n"))
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestParseDestinationList(t *testing.T) {
	destinations, err := parseDestinationList("http://a=1,,http://b=2")
	require.NoError(t, err)
	assert.Len(t, destinations, 2)

	_, err = parseDestinationList("http://no-key")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(appConfig{LogFormat: "json", LogLevel: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "destination", "http://a")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"destination":"http://a"`)
}

func TestRun_Version(t *testing.T) {
	assert.NoError(t, run([]string{"--version"}))
}

func TestRun_UnknownFlag(t *testing.T) {
	assert.Error(t, run([]string{"--bogus"}))
}
