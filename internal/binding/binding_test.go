package binding

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"
)

func TestVerifyFullMatch(t *testing.T) {
	media := []byte("raw capture bytes")
	declared := sha256.Sum256(media)

	res, err := VerifyFull(bytes.NewReader(media), declared)
	if err != nil {
		t.Fatalf("VerifyFull: %v", err)
	}
	if !res.Bound || !res.Recomputed {
		t.Errorf("result = %+v, want bound and recomputed", res)
	}
	if res.ComputedHash != declared {
		t.Error("computed hash does not equal declared")
	}
}

func TestVerifyFullTamperedMedia(t *testing.T) {
	declared := sha256.Sum256([]byte("the original frame"))

	res, err := VerifyFull(bytes.NewReader([]byte("a doctored frame")), declared)
	if !errors.Is(err, ErrMediaBinding) {
		t.Fatalf("tampered media: got %v", err)
	}
	if res.Bound {
		t.Error("tampered media reported bound")
	}
	if !res.Recomputed {
		t.Error("recomputation flag lost on mismatch")
	}
}

func TestVerifyFullMissingMedia(t *testing.T) {
	if _, err := VerifyFull(nil, sha256.Sum256([]byte("x"))); !errors.Is(err, ErrMediaMissing) {
		t.Fatalf("missing media: got %v", err)
	}
}

func TestVerifyHashOnly(t *testing.T) {
	declared := sha256.Sum256([]byte("frame"))

	res, err := VerifyHashOnly(false, declared)
	if err != nil {
		t.Fatalf("VerifyHashOnly: %v", err)
	}
	if !res.Bound {
		t.Error("hash-only not bound")
	}
	if res.Recomputed {
		t.Error("hash-only claims server recomputation")
	}
}

func TestVerifyHashOnlyRejectsMediaBytes(t *testing.T) {
	if _, err := VerifyHashOnly(true, sha256.Sum256([]byte("x"))); !errors.Is(err, ErrMediaUnexpected) {
		t.Fatalf("media in hash-only mode: got %v", err)
	}
}

func TestVerifyHashOnlyRejectsZeroHash(t *testing.T) {
	if _, err := VerifyHashOnly(false, [32]byte{}); !errors.Is(err, ErrMediaBinding) {
		t.Fatalf("zero hash: got %v", err)
	}
}

func TestHashMediaLength(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, 1<<16)
	sum, n, err := HashMedia(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(data)) {
		t.Errorf("n = %d, want %d", n, len(data))
	}
	if sum != sha256.Sum256(data) {
		t.Error("streamed hash disagrees with one-shot hash")
	}
}
