package testutils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr"
)

var ErrSourceExhausted = errors.New("mock source exhausted")

// Read is one scripted ReadLine result.
type Read struct {
	Line string
	Err  error
}

type MockLineSource struct {
	Reads  []Read
	mu     sync.Mutex
	calls  int
	closed bool
}

func NewMockLineSource(lines ...string) *MockLineSource {
	reads := make([]Read, 0, len(lines))
	for _, line := range lines {
		reads = append(reads, Read{Line: line})
	}
	return &MockLineSource{Reads: reads}
}

func (m *MockLineSource) ReadLine() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.calls >= len(m.Reads) {
		m.calls++
		return nil, ErrSourceExhausted
	}

	read := m.Reads[m.calls]
	m.calls++
	if read.Err != nil {
		return nil, read.Err
	}
	return []byte(read.Line), nil
}

func (m *MockLineSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockLineSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockLineSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type SentTelegram struct {
	Telegram    dsmr.Telegram
	Destination dsmr.Destination
}

// MockSender records every send. Failures maps a destination URL to the
// error returned for it.
type MockSender struct {
	Sent     []SentTelegram
	Failures map[string]error
	Delay    time.Duration
	mu       sync.Mutex
}

func (m *MockSender) Send(ctx context.Context, telegram dsmr.Telegram, destination dsmr.Destination) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Sent = append(m.Sent, SentTelegram{Telegram: telegram, Destination: destination})

	if err, ok := m.Failures[destination.URL]; ok {
		return err
	}
	return nil
}

func (m *MockSender) GetSent() []SentTelegram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentTelegram(nil), m.Sent...)
}

// SafeBuffer is a bytes.Buffer usable as a log sink from several goroutines.
type SafeBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Lines returns the non-empty log lines containing substr.
func (b *SafeBuffer) Lines(substr string) []string {
	var matched []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line != "" && strings.Contains(line, substr) {
			matched = append(matched, line)
		}
	}
	return matched
}

func NewTestLogger() (*slog.Logger, *SafeBuffer) {
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, buf
}

func WriteTempTelegramFile(t *testing.T, lines ...string) string {
	path := filepath.Join(t.TempDir(), "telegrams.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "")), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

func SampleTelegram(id int) []string {
	return []string{
		"/ISk5\\2MT382-1000\r\n",
		"\r\n",
		fmt.Sprintf("1-3:0.2.8(%d)\r\n", 50+id),
		"0-0:1.0.0(101209113020W)\r\n",
		"!A1B2\r\n",
	}
}
