package depth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScoreStaticProvider(t *testing.T) {
	c := NewClient(StaticProvider{Report: Report{Score: 0.85}}, time.Second)

	score, err := c.Score(context.Background(), "cap-1")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0.85 {
		t.Errorf("score = %v", score)
	}
}

func TestScoreNilProvider(t *testing.T) {
	c := NewClient(nil, time.Second)
	if _, err := c.Score(context.Background(), "cap-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil provider: got %v", err)
	}

	var nilClient *Client
	if _, err := nilClient.Score(context.Background(), "cap-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil client: got %v", err)
	}
}

func TestScoreProviderError(t *testing.T) {
	c := NewClient(StaticProvider{Err: errors.New("analyzer offline")}, time.Second)
	if _, err := c.Score(context.Background(), "cap-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("provider error: got %v", err)
	}
}

func TestScoreOutOfRange(t *testing.T) {
	for _, bad := range []float64{-0.01, 1.01, 7} {
		c := NewClient(StaticProvider{Report: Report{Score: bad}}, time.Second)
		if _, err := c.Score(context.Background(), "cap-1"); !errors.Is(err, ErrScoreRange) {
			t.Errorf("score %v: got %v", bad, err)
		}
	}
}

// blockingProvider never answers; the client's bound must cut it off.
type blockingProvider struct{}

func (blockingProvider) Analyze(ctx context.Context, captureID string) (Report, error) {
	<-ctx.Done()
	return Report{}, ctx.Err()
}

func TestScoreBoundedWait(t *testing.T) {
	c := NewClient(blockingProvider{}, 50*time.Millisecond)

	start := time.Now()
	_, err := c.Score(context.Background(), "cap-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("blocked provider: got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("wait not bounded: %v", elapsed)
	}
}

func TestFileRelayDeliversScore(t *testing.T) {
	dir := t.TempDir()
	relay := &FileRelay{Dir: dir, Poll: 10 * time.Millisecond}

	go func() {
		time.Sleep(30 * time.Millisecond)
		doc := []byte(`{"score": 0.72, "analyzed_at": "2026-03-14T12:00:00Z"}`)
		os.WriteFile(filepath.Join(dir, "cap-9.depth.json"), doc, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := relay.Analyze(ctx, "cap-9")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Score != 0.72 {
		t.Errorf("score = %v", report.Score)
	}
}

func TestFileRelayTimesOutWithoutDocument(t *testing.T) {
	relay := &FileRelay{Dir: t.TempDir(), Poll: 10 * time.Millisecond}

	c := NewClient(relay, 50*time.Millisecond)
	if _, err := c.Score(context.Background(), "cap-none"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("missing document: got %v", err)
	}
}

// A truncated document is a write in progress, not a failure: the relay
// must keep polling and pick up the completed document.
func TestFileRelayToleratesTornWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cap-torn.depth.json")
	if err := os.WriteFile(path, []byte(`{"score": 0.7`), 0o644); err != nil {
		t.Fatal(err)
	}
	relay := &FileRelay{Dir: dir, Poll: 10 * time.Millisecond}

	go func() {
		time.Sleep(30 * time.Millisecond)
		os.WriteFile(path, []byte(`{"score": 0.72, "analyzed_at": "2026-03-14T12:00:00Z"}`), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := relay.Analyze(ctx, "cap-torn")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Score != 0.72 {
		t.Errorf("score = %v", report.Score)
	}
}

func TestFileRelayMalformedDocumentTimesOut(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cap-bad.depth.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	relay := &FileRelay{Dir: dir, Poll: 10 * time.Millisecond}

	c := NewClient(relay, 50*time.Millisecond)
	if _, err := c.Score(context.Background(), "cap-bad"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("malformed document: got %v", err)
	}
}
