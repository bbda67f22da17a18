package speech

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(float64) float64
		in   float64
		want float64
	}{
		{"rate below", ClampRate, 0, MinRate},
		{"rate above", ClampRate, 5, MaxRate},
		{"rate inside", ClampRate, 0.9, 0.9},
		{"rate NaN", ClampRate, math.NaN(), MinRate},
		{"volume below", ClampVolume, -1, 0},
		{"volume above", ClampVolume, 1.5, 1},
		{"pitch above", ClampPitch, 3, 2},
		{"pitch inside", ClampPitch, 1, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.fn(tc.in); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEventKind(t *testing.T) {
	t.Parallel()

	if EventStarted.Terminal() {
		t.Error("EventStarted must not be terminal")
	}
	if !EventCompleted.Terminal() || !EventFailed.Terminal() {
		t.Error("completed and failed must be terminal")
	}
	if got := EventFailed.String(); got != "failed" {
		t.Errorf("String() = %q, want failed", got)
	}
}

func TestQueueStrategy_Valid(t *testing.T) {
	t.Parallel()

	if !QueueFlush.Valid() || !QueueAppend.Valid() {
		t.Error("built-in strategies must be valid")
	}
	if QueueStrategy("drop").Valid() {
		t.Error("unknown strategy reported valid")
	}
}
