package framer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr"
)

// Framer reassembles telegrams from a line source. It is not safe for
// concurrent use; the source belongs to it exclusively.
type Framer struct {
	source    dsmr.LineSource
	startSeen bool
	buffer    strings.Builder

	onLine        func()
	onInterrupted func()
}

type Option func(*Framer)

// WithLineHook registers a callback invoked for every line read.
func WithLineHook(fn func()) Option {
	return func(f *Framer) { f.onLine = fn }
}

// WithInterruptHook registers a callback invoked for every retried read.
func WithInterruptHook(fn func()) Option {
	return func(f *Framer) { f.onInterrupted = fn }
}

func New(source dsmr.LineSource, opts ...Option) *Framer {
	f := &Framer{source: source}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Next blocks until a complete telegram has been read. It only returns an
// error for a fatal read failure or a cancelled context; after that the
// source has to be recreated.
func (f *Framer) Next(ctx context.Context) (dsmr.Telegram, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		raw, err := f.source.ReadLine()
		if err != nil {
			if IsInterrupted(err) {
				if f.onInterrupted != nil {
					f.onInterrupted()
				}
				continue
			}
			return "", fmt.Errorf("failed to read line: %w", err)
		}
		if f.onLine != nil {
			f.onLine()
		}

		if telegram, ok := f.push(decode(raw)); ok {
			return telegram, nil
		}
	}
}

// push feeds one line into the state machine. The buffer is only reset by
// the next start line, not on emit.
func (f *Framer) push(line string) (dsmr.Telegram, bool) {
	if strings.HasPrefix(line, string(dsmr.StartMarker)) {
		f.startSeen = true
		f.buffer.Reset()
	}

	if !f.startSeen {
		return "", false
	}

	f.buffer.WriteString(line)

	if strings.HasPrefix(line, string(dsmr.EndMarker)) {
		return dsmr.Telegram(f.buffer.String()), true
	}
	return "", false
}

// decode returns the line as text. Invalid UTF-8 is kept byte for byte
// instead of being replaced, so a garbled line still frames the same way.
func decode(raw []byte) string {
	return string(raw)
}

// IsInterrupted reports whether err means the blocking read was interrupted
// by a signal rather than a device fault.
func IsInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.EINTR) {
		return true
	}
	// some drivers flatten errno into the message
	return strings.Contains(strings.ToLower(err.Error()), "interrupted system call")
}
