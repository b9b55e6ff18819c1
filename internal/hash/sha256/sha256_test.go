// Package sha256 includes tests for the fingerprint adapter.
package sha256

import "testing"

// TestFingerprintDeterministic ensures repeated hashing yields the same digest.
func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	f := New()
	got, err := f.Fingerprint("https://seek.com/job/12345")
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if len(got) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars", len(got))
	}
	again, err := f.Fingerprint("https://seek.com/job/12345")
	if err != nil {
		t.Fatalf("Fingerprint() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic digest, got %s vs %s", got, again)
	}
}

// TestFingerprintDistinctInputs ensures distinct canonical URLs diverge.
func TestFingerprintDistinctInputs(t *testing.T) {
	t.Parallel()

	f := New()
	a, err := f.Fingerprint("https://seek.com/job/12345")
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	b, err := f.Fingerprint("https://seek.com/job/12346")
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct digests for distinct URLs")
	}
}

// TestFingerprintEmptyInput rejects an empty canonical URL.
func TestFingerprintEmptyInput(t *testing.T) {
	t.Parallel()

	if _, err := New().Fingerprint(""); err == nil {
		t.Fatal("expected error for empty input")
	}
}
