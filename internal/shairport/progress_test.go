package shairport

import (
	"math"
	"testing"
)

func TestParseProgress(t *testing.T) {
	// 0s start, 30s elapsed, 180s total at 44.1kHz
	p, err := ParseProgress([]byte("100/1323100/7938100"))
	if err != nil {
		t.Fatalf("ParseProgress failed: %v", err)
	}
	if math.Abs(p.Position-30.0) > 0.001 {
		t.Errorf("position: expected 30s, got %.3f", p.Position)
	}
	if math.Abs(p.Duration-180.0) > 0.001 {
		t.Errorf("duration: expected 180s, got %.3f", p.Duration)
	}
}

func TestParseProgressRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"123",
		"1/2",
		"a/b/c",
		"100/50/200",  // current before start
		"100/150/50",  // end before start
	}
	for _, c := range cases {
		if _, err := ParseProgress([]byte(c)); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}
