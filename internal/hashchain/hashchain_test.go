package hashchain

import (
	"crypto/sha256"
	"fmt"
	"testing"
	"time"
)

func makeFrames(n int) []FrameInput {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	frames := make([]FrameInput, n)
	for i := range frames {
		frames[i] = FrameInput{
			Hash:      sha256.Sum256([]byte(fmt.Sprintf("frame-%d", i))),
			Timestamp: base.Add(time.Duration(i) * 33 * time.Millisecond),
		}
	}
	return frames
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 30, 100} {
		entries := Build("session-rt", makeFrames(n))
		res := Verify("session-rt", entries)
		if !res.Intact {
			t.Errorf("n=%d: honest chain reported broken at %d", n, res.BrokenAt)
		}
		if res.Length != n {
			t.Errorf("n=%d: length = %d", n, res.Length)
		}
	}
}

func TestSingleEntryPhoto(t *testing.T) {
	entries := Build("photo-session", makeFrames(1))
	res := Verify("photo-session", entries)
	if !res.Intact {
		t.Fatalf("degenerate one-entry chain broken at %d", res.BrokenAt)
	}
}

func TestTamperedFrameBreaksAtIndex(t *testing.T) {
	for _, i := range []int{0, 7, 29} {
		entries := Build("session-tamper", makeFrames(30))
		entries[i].FrameHash[0] ^= 0xff

		res := Verify("session-tamper", entries)
		if res.Intact {
			t.Fatalf("tamper at %d not detected", i)
		}
		if res.BrokenAt != uint64(i) {
			t.Errorf("tamper at %d reported at %d", i, res.BrokenAt)
		}
	}
}

func TestTamperedChainHashDetected(t *testing.T) {
	entries := Build("session-tamper2", makeFrames(10))
	entries[4].ChainHash[5] ^= 0x01

	res := Verify("session-tamper2", entries)
	if res.Intact || res.BrokenAt != 4 {
		t.Fatalf("got intact=%v brokenAt=%d, want broken at 4", res.Intact, res.BrokenAt)
	}
}

func TestSessionSeedBindsChain(t *testing.T) {
	entries := Build("session-a", makeFrames(5))
	res := Verify("session-b", entries)
	if res.Intact {
		t.Fatal("chain from session-a verified under session-b seed")
	}
	if res.BrokenAt != 0 {
		t.Errorf("cross-session chain should break at 0, got %d", res.BrokenAt)
	}
}

func TestGapEntries(t *testing.T) {
	frames := makeFrames(10)
	frames[3].Gap = true
	frames[6].Gap = true

	entries := Build("session-gaps", frames)
	res := Verify("session-gaps", entries)
	if !res.Intact {
		t.Fatalf("chain with gap entries broken at %d", res.BrokenAt)
	}
	if res.GapCount != 2 {
		t.Errorf("GapCount = %d, want 2", res.GapCount)
	}
	if entries[3].FrameHash != GapSentinel {
		t.Error("gap entry does not carry the sentinel hash")
	}
}

func TestGapFlagOverRealHashRejected(t *testing.T) {
	entries := Build("session-fakegap", makeFrames(5))
	// Flag a real frame as a gap without relinking.
	entries[2].Gap = true

	res := Verify("session-fakegap", entries)
	if res.Intact {
		t.Fatal("gap flag over a real frame hash accepted")
	}
	if res.BrokenAt != 2 {
		t.Errorf("broken at %d, want 2", res.BrokenAt)
	}
}

func TestIndexMismatchRejected(t *testing.T) {
	entries := Build("session-idx", makeFrames(4))
	entries[2].Index = 5

	res := Verify("session-idx", entries)
	if res.Intact {
		t.Fatal("out-of-sequence index accepted")
	}
}

func TestHashAt(t *testing.T) {
	entries := Build("session-at", makeFrames(8))

	h, err := HashAt(entries, 5)
	if err != nil {
		t.Fatalf("HashAt(5): %v", err)
	}
	if h != entries[5].ChainHash {
		t.Error("HashAt returned wrong hash")
	}

	if _, err := HashAt(entries, 8); err == nil {
		t.Error("HashAt out of range did not error")
	}
}

func TestSeedDeterministic(t *testing.T) {
	if Seed("s1") != Seed("s1") {
		t.Error("seed not deterministic")
	}
	if Seed("s1") == Seed("s2") {
		t.Error("distinct sessions share a seed")
	}
}
