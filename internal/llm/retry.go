package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"tehais/internal/llm/provider"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	baseBackoff = time.Second
	maxJitter   = 500 * time.Millisecond

	// MaxBackoffExponent caps the delay at 2^6 = 64 seconds.
	MaxBackoffExponent = 6
)

// Backoff returns the delay before the retry that follows a rate-limited
// attempt: 2^attempt seconds plus jitter, with the exponent clamped to
// [0, MaxBackoffExponent].
func Backoff(attempt int, jitter time.Duration) time.Duration {
	exp := min(max(attempt, 0), MaxBackoffExponent)
	return baseBackoff*time.Duration(1<<exp) + jitter
}

func randomJitter() time.Duration {
	return rand.N(maxJitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRateLimited reports whether err is an upstream throttling signal.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if strings.Contains(err.Error(), "429") {
		return true
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusTooManyRequests || apiErr.Code == http.StatusTooManyRequests) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if aerr.HTTPCode() == http.StatusTooManyRequests || aerr.GRPCStatus().Code() == codes.ResourceExhausted {
			return true
		}
	}

	return status.Code(err) == codes.ResourceExhausted
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeParseFailed
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate-limited"
	case OutcomeParseFailed:
		return "parse-failed"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single backend attempt.
type Outcome struct {
	Kind  OutcomeKind
	Text  string
	Value any
	Err   error
}

func classify(text string, err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeSuccess, Text: text}
	case IsRateLimited(err):
		return Outcome{Kind: OutcomeRateLimited, Err: err}
	default:
		return Outcome{Kind: OutcomeFatal, Err: err}
	}
}

type Stage int

const (
	StageText Stage = iota
	StageJSON
)

func (s Stage) String() string {
	if s == StageJSON {
		return "json"
	}
	return "text"
}

type Step int

const (
	StepReturn Step = iota
	StepRetry
	StepFallback
	StepAbort
)

func (s Step) String() string {
	switch s {
	case StepReturn:
		return "return"
	case StepRetry:
		return "retry"
	case StepFallback:
		return "fallback"
	case StepAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// NextStep decides what a stage does after an attempt. attempt is zero-based
// and a stage makes at most maxRetries+1 attempts.
func NextStep(o Outcome, attempt, maxRetries int, stage Stage, degradeOnFatal bool) Step {
	switch o.Kind {
	case OutcomeSuccess:
		return StepReturn
	case OutcomeRateLimited:
		if attempt < maxRetries {
			return StepRetry
		}
		if stage == StageJSON {
			return StepFallback
		}
		return StepAbort
	case OutcomeParseFailed:
		if stage == StageJSON {
			return StepFallback
		}
		return StepAbort
	default:
		if stage == StageJSON && degradeOnFatal {
			return StepFallback
		}
		return StepAbort
	}
}
