package dsmr

import (
	"context"
	"time"
)

const (
	StartMarker = '/'
	EndMarker   = '!'
)

// Telegram is one complete meter message: the '/' line through the '!' line,
// with every line-ending byte kept.
type Telegram string

type Destination struct {
	URL    string
	APIKey string
}

// Outcome is the result of delivering one telegram to one destination.
// StatusCode is zero when no response was received.
type Outcome struct {
	Destination Destination
	StatusCode  int
	Err         error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// LineSource yields one raw line per call. An empty line means the device
// read timed out without data.
type LineSource interface {
	ReadLine() ([]byte, error)
	Close() error
}

type TelegramSource interface {
	Next(ctx context.Context) (Telegram, error)
}

type Sender interface {
	Send(ctx context.Context, telegram Telegram, destination Destination) error
}

type Deliverer interface {
	Deliver(ctx context.Context, telegram Telegram) []Outcome
}

type Config struct {
	Destinations   []Destination
	RequestTimeout time.Duration
	Parallel       bool
}
