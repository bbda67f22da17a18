package feedback

import (
	"math"
	"time"

	"github.com/MrWong99/posecoach/internal/scheduler"
)

// Gate filters live cues that would only repeat what was just said. A cue
// passes when its text differs from the last spoken one, its accuracy moved
// by at least AccuracyDelta, or RepeatAfter has elapsed.
type Gate struct {
	delta       float64
	repeatAfter time.Duration
	now         func() time.Time
}

// NewGate creates a Gate from cfg. Zero fields take their defaults. A nil
// now uses [time.Now].
func NewGate(cfg Config, now func() time.Time) *Gate {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Gate{delta: cfg.AccuracyDelta, repeatAfter: cfg.RepeatAfter, now: now}
}

// Allow reports whether u is significant compared to last.
func (g *Gate) Allow(u scheduler.Utterance, last scheduler.Spoken) bool {
	if last.IsZero() || u.Text != last.Text {
		return true
	}
	if math.Abs(u.Accuracy-last.Accuracy) >= g.delta {
		return true
	}
	return g.now().Sub(last.At) >= g.repeatAfter
}
