package feed

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30, 30, 30}
	for i, w := range want {
		failures := i + 1
		got := Backoff(failures, DefaultBackoffMin, DefaultBackoffMax)
		if got != w*time.Second {
			t.Errorf("Backoff(%d) = %v, want %v", failures, got, w*time.Second)
		}
	}
}

func TestBackoffNonPositive(t *testing.T) {
	if got := Backoff(0, time.Second, time.Minute); got != time.Second {
		t.Errorf("Backoff(0) = %v, want 1s", got)
	}
	if got := Backoff(-3, time.Second, time.Minute); got != time.Second {
		t.Errorf("Backoff(-3) = %v, want 1s", got)
	}
}
