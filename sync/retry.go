package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultMaxAttempts is used when no attempt count is configured.
	DefaultMaxAttempts = 3

	backoffStep = 2 * time.Second
	backoffCap  = 30 * time.Second
)

// Class is the retry classification of a failure.
type Class int

const (
	// ClassUnknown failures are retried conservatively.
	ClassUnknown Class = iota
	// ClassTransient failures are expected to succeed on a later attempt.
	ClassTransient
	// ClassFatal failures are surfaced immediately.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var transientStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusRequestTimeout:     true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

var fatalStatus = map[int]bool{
	http.StatusUnauthorized: true,
	http.StatusForbidden:    true,
}

// transientReasons covers remote API reason codes for rate limiting and
// backend hiccups, including the S3 error codes with the same meaning.
var transientReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"backendError":          true,
	"SlowDown":              true,
	"Throttling":            true,
	"ThrottlingException":   true,
	"RequestLimitExceeded":  true,
	"RequestTimeout":        true,
	"InternalError":         true,
	"ServiceUnavailable":    true,
}

var fatalReasons = map[string]bool{
	"AccessDenied":            true,
	"AllAccessDisabled":       true,
	"InvalidAccessKeyId":      true,
	"SignatureDoesNotMatch":   true,
	"ExpiredToken":            true,
	"InvalidToken":            true,
	"insufficientPermissions": true,
	"authError":               true,
}

// Classify maps a failure to its retry class. It has no side effects.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, fs.ErrPermission) {
		return ClassFatal
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if c := classifyCode(httpErr.StatusCode, httpErr.Reason); c != ClassUnknown {
			return c
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if c := classifyCode(0, apiErr.ErrorCode()); c != ClassUnknown {
			return c
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if c := classifyCode(respErr.HTTPStatusCode(), ""); c != ClassUnknown {
			return c
		}
	}

	var netErr net.Error
	var pathErr *fs.PathError
	switch {
	case errors.As(err, &netErr),
		errors.As(err, &pathErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return ClassTransient
	}
	return ClassUnknown
}

func classifyCode(status int, reason string) Class {
	switch {
	case fatalStatus[status], fatalReasons[reason]:
		return ClassFatal
	case transientStatus[status], transientReasons[reason]:
		return ClassTransient
	}
	return ClassUnknown
}

// DefaultBackoff waits 2s per attempt already made, capped at 30s.
func DefaultBackoff(attempt int) time.Duration {
	return min(backoffCap, backoffStep*time.Duration(attempt))
}

// Outcome tags the result of a retried operation.
type Outcome int

const (
	Succeeded Outcome = iota
	Exhausted
	Aborted
)

// Result is what Policy.Execute returns. Err is nil only when Outcome is
// Succeeded.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// Policy runs an operation until it succeeds, fails fatally, or runs out of
// attempts.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Clock       clockwork.Clock
}

// Execute runs op under the policy. label names the item in logs and errors.
func (p *Policy) Execute(ctx context.Context, label string, op func(context.Context) error) Result {
	maxAttempts := max(1, p.MaxAttempts)
	backoff := p.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return Result{Outcome: Succeeded, Attempts: attempt}
		}
		if ctx.Err() != nil {
			return Result{Outcome: Aborted, Attempts: attempt, Err: ctx.Err()}
		}

		class := Classify(err)
		if class == ClassFatal {
			slog.Error("unauthorized", "item", label, "error", err)
			return Result{
				Outcome:  Aborted,
				Attempts: attempt,
				Err:      fmt.Errorf("%w: %s: %w", ErrUnauthorized, label, err),
			}
		}

		last = err
		slog.Warn("attempt failed", "item", label, "class", class, "attempt", attempt, "max", maxAttempts, "error", err)
		if attempt == maxAttempts {
			break
		}
		if err := p.wait(ctx, backoff(attempt)); err != nil {
			return Result{Outcome: Aborted, Attempts: attempt, Err: err}
		}
	}

	slog.Error("giving up", "item", label, "attempts", maxAttempts, "error", last)
	return Result{
		Outcome:  Exhausted,
		Attempts: maxAttempts,
		Err:      fmt.Errorf("%w: %d attempts for %s: %w", ErrRetriesExhausted, maxAttempts, label, last),
	}
}

func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
