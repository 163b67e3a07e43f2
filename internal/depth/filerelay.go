package depth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// FileRelay reads analyzer scores from a relay directory. The depth
// analyzer collaborator drops one JSON document per capture, named
// <capture_id>.depth.json; Analyze polls for it until the context expires.
// This keeps the analyzer fully decoupled from the daemon process.
type FileRelay struct {
	// Dir is the relay directory.
	Dir string

	// Poll is the polling interval. Zero means 100ms.
	Poll time.Duration
}

type relayDocument struct {
	Score      float64   `json:"score"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Analyze waits for the analyzer's score document for a capture.
func (r *FileRelay) Analyze(ctx context.Context, captureID string) (Report, error) {
	path := filepath.Join(r.Dir, captureID+".depth.json")

	poll := r.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		data, err := os.ReadFile(path)
		if err == nil {
			// The analyzer's write is not atomic, so a poll can land
			// between create and write and read a truncated document.
			// A document that does not parse yet is not ready; keep
			// polling until it does or the context expires.
			var doc relayDocument
			if err := json.Unmarshal(data, &doc); err == nil {
				return Report{Score: doc.Score, AnalyzedAt: doc.AnalyzedAt}, nil
			}
		} else if !os.IsNotExist(err) {
			return Report{}, err
		}

		select {
		case <-ctx.Done():
			return Report{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
