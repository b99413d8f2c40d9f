package serialport

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

const DefaultReadTimeout = 20 * time.Second

// Profile is a baud/parity/byte-size combination a meter generation talks.
type Profile struct {
	Name     string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

var (
	// ProfileV2 covers DSMR 2.x and 3.x meters (9600 7E1).
	ProfileV2 = Profile{Name: "v2", BaudRate: 9600, DataBits: 7, Parity: serial.EvenParity, StopBits: serial.OneStopBit}
	// ProfileV4 covers DSMR 4 and newer (115200 8E1).
	ProfileV4 = Profile{Name: "v4", BaudRate: 115200, DataBits: 8, Parity: serial.EvenParity, StopBits: serial.OneStopBit}
)

// ProfileFor maps the configured DSMR version to a profile; everything other
// than "2" is treated as v4+.
func ProfileFor(version string) Profile {
	if version == "2" {
		return ProfileV2
	}
	return ProfileV4
}

func (p Profile) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: p.BaudRate,
		DataBits: p.DataBits,
		Parity:   p.Parity,
		StopBits: p.StopBits,
	}
}

// Source reads newline terminated lines from a serial port. A read that
// times out returns whatever was received so far, possibly nothing.
type Source struct {
	port    io.ReadCloser
	pending []byte
	chunk   []byte
}

func Open(device string, profile Profile, readTimeout time.Duration) (*Source, error) {
	port, err := serial.Open(device, profile.mode())
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}

	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", device, err)
		}
	}

	return NewSource(port), nil
}

func NewSource(port io.ReadCloser) *Source {
	return &Source{
		port:  port,
		chunk: make([]byte, 256),
	}
}

func (s *Source) ReadLine() ([]byte, error) {
	for {
		if idx := bytes.IndexByte(s.pending, '\n'); idx >= 0 {
			return s.take(idx + 1), nil
		}

		n, err := s.port.Read(s.chunk)
		if err != nil {
			// pending bytes survive so a retried read continues the same line
			return nil, err
		}
		if n == 0 {
			return s.take(len(s.pending)), nil
		}
		s.pending = append(s.pending, s.chunk[:n]...)
	}
}

func (s *Source) take(n int) []byte {
	line := make([]byte, n)
	copy(line, s.pending[:n])
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return line
}

func (s *Source) Close() error {
	return s.port.Close()
}
