// Package depth integrates depth-map liveness analysis into verification.
//
// Depth analysis is an external signal: a provider scores how consistent a
// capture's depth data is with a live three-dimensional scene (a flat
// re-photograph of a screen scores near zero). Providers may be slow or
// unavailable, so the integration is strictly bounded: the engine waits at
// most a configured interval. An absent score fails the capture outright; a
// default score is never substituted.
package depth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable means no depth score could be obtained in time.
	// The capture fails on this signal; a default score is never
	// substituted for a missing one.
	ErrUnavailable = errors.New("depth: analysis unavailable")

	// ErrScoreRange means the provider returned a score outside [0, 1].
	ErrScoreRange = errors.New("depth: score out of range")
)

// Report is a provider's assessment of one capture.
type Report struct {
	// Score is the depth-consistency score in [0, 1]. Higher means the
	// depth map is more consistent with a live scene.
	Score float64

	// AnalyzedAt is when the provider produced the score.
	AnalyzedAt time.Time
}

// Provider produces depth-consistency scores. Implementations wrap an
// on-device analyzer output relay, a remote analysis service, or a stub.
type Provider interface {
	Analyze(ctx context.Context, captureID string) (Report, error)
}

// Client wraps a Provider with a hard wait bound and range validation.
type Client struct {
	provider Provider
	timeout  time.Duration
}

// NewClient builds a bounded client. A zero or negative timeout disables
// the bound (the caller's context still applies).
func NewClient(p Provider, timeout time.Duration) *Client {
	return &Client{provider: p, timeout: timeout}
}

// Score obtains the depth-consistency score for a capture, waiting at most
// the configured interval. Timeouts, provider failures and a nil provider
// all collapse to ErrUnavailable so the caller has a single degraded path.
func (c *Client) Score(ctx context.Context, captureID string) (float64, error) {
	if c == nil || c.provider == nil {
		return 0, ErrUnavailable
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	report, err := c.provider.Analyze(ctx, captureID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if report.Score < 0 || report.Score > 1 {
		return 0, fmt.Errorf("%w: %v", ErrScoreRange, report.Score)
	}
	return report.Score, nil
}

// StaticProvider returns a fixed score. Used by the offline verifier and
// in tests.
type StaticProvider struct {
	Report Report
	Err    error
}

func (s StaticProvider) Analyze(ctx context.Context, captureID string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if s.Err != nil {
		return Report{}, s.Err
	}
	return s.Report, nil
}
