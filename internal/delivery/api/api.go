package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr"
)

const DefaultTimeout = 60 * time.Second

// maxBodyLog bounds how much of a rejected response ends up in a log line.
const maxBodyLog = 4096

// StatusError is returned when the collector answers with anything but 201.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: HTTP %d - %s", e.StatusCode, e.Body)
}

// Sender posts telegrams to the datalogger endpoint of a collector.
type Sender struct {
	httpClient *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *Sender) Send(ctx context.Context, telegram dsmr.Telegram, destination dsmr.Destination) error {
	form := url.Values{}
	form.Set("telegram", string(telegram))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Token "+destination.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
