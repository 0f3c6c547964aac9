// Package delivery sends normalized records to the downstream API.
//
// Each record is posted individually; there is no multi-row atomicity. The
// client classifies responses (success, retryable, fatal), retries transient
// failures with exponential backoff and jitter up to a configured ceiling,
// and records every attempt in the outcome ledger before surfacing a result.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"filebridge/internal/config"

	"github.com/google/uuid"
)

// Outcome classifies one delivery attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable_failure"
	OutcomeFatal     Outcome = "fatal_failure"
)

// maxBodySnippet limits how much of an error response body is kept for
// diagnostics.
const maxBodySnippet = 256

// RowRef identifies the row a delivery belongs to.
type RowRef struct {
	FileID     uuid.UUID
	RowIndex   int
	JobAttempt int
}

// Attempt is one append-only delivery attempt record.
type Attempt struct {
	FileID     uuid.UUID
	RowIndex   int
	JobAttempt int
	Number     int
	Outcome    Outcome
	HTTPStatus int
	At         time.Time
}

// AttemptRecorder is the ledger sink for delivery attempts.
type AttemptRecorder interface {
	AppendDeliveryAttempt(ctx context.Context, a Attempt) error
}

// FatalError reports a payload the downstream rejected; retrying will not
// help.
type FatalError struct {
	Status int
	Body   string
}

func (e *FatalError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("delivery rejected: HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("delivery rejected: HTTP %d", e.Status)
}

// RetryExhaustedError reports a transient failure that survived the full
// retry budget.
type RetryExhaustedError struct {
	Attempts   int
	LastStatus int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("delivery failed after %d attempts: last HTTP %d", e.Attempts, e.LastStatus)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Client delivers records to the downstream endpoint.
type Client struct {
	endpoint    string
	token       string
	maxAttempts int
	backoff     Backoff
	http        *http.Client
	ledger      AttemptRecorder
	log         *slog.Logger

	// test seams
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a delivery client. Attempts are recorded through ledger before
// any result is returned to the caller.
func New(cfg config.DeliveryConfig, ledger AttemptRecorder, log *slog.Logger) *Client {
	backoff := DefaultBackoff()
	if cfg.BackoffBase > 0 {
		backoff.Base = cfg.BackoffBase
	}
	if cfg.BackoffMax > 0 {
		backoff.Max = cfg.BackoffMax
	}
	return &Client{
		endpoint:    cfg.EndpointURL,
		token:       cfg.Token,
		maxAttempts: cfg.MaxAttempts,
		backoff:     backoff,
		http:        &http.Client{Timeout: cfg.RequestTimeout},
		ledger:      ledger,
		log:         log,
		sleep:       sleepCtx,
	}
}

// Deliver posts one record, retrying transient failures up to the attempt
// ceiling. It returns nil on success, *FatalError when the payload is
// rejected, *RetryExhaustedError when retries run out, the context error on
// cancellation, or a wrapped ledger error if an attempt cannot be recorded.
func (c *Client) Deliver(ctx context.Context, ref RowRef, record map[string]any) error {
	var lastStatus int
	var lastErr error

	for n := 1; n <= c.maxAttempts; n++ {
		status, body, err := c.post(ctx, record)
		outcome := Classify(status, err)

		attempt := Attempt{
			FileID:     ref.FileID,
			RowIndex:   ref.RowIndex,
			JobAttempt: ref.JobAttempt,
			Number:     n,
			Outcome:    outcome,
			HTTPStatus: status,
			At:         time.Now().UTC(),
		}
		if aerr := c.ledger.AppendDeliveryAttempt(ctx, attempt); aerr != nil {
			return fmt.Errorf("record delivery attempt: %w", aerr)
		}

		switch outcome {
		case OutcomeSuccess:
			return nil
		case OutcomeFatal:
			return &FatalError{Status: status, Body: body}
		}

		lastStatus, lastErr = status, err
		c.log.Warn("delivery attempt failed",
			"file_id", ref.FileID,
			"row_index", ref.RowIndex,
			"attempt", n,
			"status", status,
			"error", err,
		)

		if n < c.maxAttempts {
			if serr := c.sleep(ctx, NextDelay(n, c.backoff, c.rng)); serr != nil {
				return serr
			}
		}
	}

	return &RetryExhaustedError{Attempts: c.maxAttempts, LastStatus: lastStatus, Err: lastErr}
}

// post sends one record and returns the HTTP status and a snippet of the
// response body for non-2xx responses. A transport error returns status 0.
func (c *Client) post(ctx context.Context, record map[string]any) (int, string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return 0, "", fmt.Errorf("encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var body string
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
		body = string(snippet)
	} else {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return resp.StatusCode, body, nil
}

// Classify maps an HTTP status (or transport error) to an attempt outcome:
// 2xx is success; 429, 5xx, timeouts and connection errors are retryable;
// any other 4xx means the payload itself was rejected.
func Classify(status int, err error) Outcome {
	switch {
	case err != nil:
		return OutcomeRetryable
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusTooManyRequests:
		return OutcomeRetryable
	case status >= 500:
		return OutcomeRetryable
	default:
		return OutcomeFatal
	}
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
