package clockservice

import (
	"testing"
	"time"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestDriftBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := fixedClock{t: now}

	if got := Drift(c, now.Unix()-300); got != 300 {
		t.Fatalf("expected drift 300 at boundary, got %d", got)
	}
	if got := Drift(c, now.Unix()+10); got != 10 {
		t.Fatalf("expected symmetric drift for future timestamps, got %d", got)
	}
}

func TestEpochSeconds(t *testing.T) {
	c := fixedClock{t: time.Unix(42, 0)}
	if got := EpochSeconds(c); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}
