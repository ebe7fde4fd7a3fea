package tokens

import (
	"strings"
	"testing"
)

func TestCountReturnsPositiveForText(t *testing.T) {
	counter, err := NewCounter()
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}

	if got := counter.Count(""); got != 0 {
		t.Errorf("empty string counted as %d tokens", got)
	}
	if got := counter.Count("hello world"); got == 0 {
		t.Errorf("non-empty text counted as 0 tokens")
	}

	short := counter.Count("hello")
	long := counter.Count(strings.Repeat("hello world, this is a longer sentence. ", 20))
	if long <= short {
		t.Errorf("longer text should count more tokens: short=%d long=%d", short, long)
	}
}

func TestCountNilCounterFallsBack(t *testing.T) {
	var counter *Counter
	text := strings.Repeat("abcd", 25) // 100 chars
	if got := counter.Count(text); got != 25 {
		t.Errorf("nil counter fallback: got %d, want 25", got)
	}
}

func TestWithinLimit(t *testing.T) {
	counter, err := NewCounter()
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}

	if !counter.WithinLimit("short", 100) {
		t.Error("short text should be within a generous limit")
	}
	if counter.WithinLimit(strings.Repeat("many words here ", 100), 10) {
		t.Error("long text should exceed a tiny limit")
	}
}

func TestTruncateRespectsLimit(t *testing.T) {
	counter, err := NewCounter()
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 50)
	truncated := counter.Truncate(text, 50)

	if len(truncated) >= len(text) {
		t.Errorf("truncation did not shrink the text")
	}
	if !strings.HasSuffix(truncated, "...") {
		t.Errorf("truncated text should carry an ellipsis marker")
	}

	// Untouched when already within limit.
	if got := counter.Truncate("tiny", 100); got != "tiny" {
		t.Errorf("short text should pass through unchanged, got %q", got)
	}
}

func TestCountSimple(t *testing.T) {
	if got := CountSimple("hello world"); got == 0 {
		t.Error("expected non-zero count")
	}
}
