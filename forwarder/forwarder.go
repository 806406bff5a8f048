package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	requestTimeout = 90 * time.Second
	maxAttempts    = 3
)

// Result reports a delivery attempt series to the downstream system.
type Result struct {
	Success   bool   `json:"success"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// Forwarder delivers raw webhook payloads to a downstream HTTP
// endpoint. Transport failures and 5xx responses are retried with
// exponential backoff; 4xx responses fail immediately since a retry
// cannot change the outcome.
type Forwarder struct {
	url    string
	httpc  *http.Client
	logger *slog.Logger

	sleep func(time.Duration)
}

func New(url string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		url:    url,
		httpc:  &http.Client{Timeout: requestTimeout},
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Enabled reports whether a downstream endpoint is configured.
func (f *Forwarder) Enabled() bool {
	return f.url != ""
}

// Forward posts the payload downstream, retrying up to 3 attempts.
func (f *Forwarder) Forward(ctx context.Context, payload []byte) Result {
	if !f.Enabled() {
		return Result{LastError: "no forward url configured"}
	}

	var lastErr string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryable, err := f.post(ctx, payload)
		if err == nil {
			return Result{Success: true, Attempts: attempt}
		}

		lastErr = err.Error()
		f.logger.Warn("forward attempt failed",
			slog.Int("attempt", attempt),
			slog.Bool("retryable", retryable),
			slog.Any("error", err),
		)
		if !retryable {
			return Result{Attempts: attempt, LastError: lastErr}
		}
		if attempt < maxAttempts {
			f.sleep(time.Duration(1<<(attempt-1)) * time.Second)
		}
	}

	return Result{Attempts: maxAttempts, LastError: lastErr}
}

func (f *Forwarder) post(ctx context.Context, payload []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpc.Do(req)
	if err != nil {
		return true, fmt.Errorf("forward request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("downstream returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("downstream rejected with %d", resp.StatusCode)
	}
}
