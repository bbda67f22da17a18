// Package feedback turns pose classifications into spoken coaching cues.
//
// The [Composer] maps a classification's accuracy to a primary phrase from a
// fixed set of bands and, for low scores, looks up an exercise-specific
// refinement in a rule table keyed by exercise. Motivational, countdown and
// test phrases are provided for callers outside the live analysis path. The
// [Gate] decides whether a composed cue is worth speaking at all.
package feedback

import (
	"time"

	"github.com/MrWong99/posecoach/internal/scheduler"
	"github.com/MrWong99/posecoach/pkg/pose"
)

// Band maps every accuracy at or above Min to Phrase.
type Band struct {
	Min    float64
	Phrase string
}

// Bands are evaluated from the top. The last band has Min 0, so every
// accuracy in [0, 100] selects exactly one band.
var Bands = []Band{
	{95, "Excellent form!"},
	{85, "Good form!"},
	{75, "Nice work!"},
	{65, "Keep it up!"},
	{50, "Keep adjusting your form"},
	{30, "Adjust your position"},
	{0, "Check your position"},
}

// Rule selects Phrase when any feedback tag contains Tag.
type Rule struct {
	Tag    string
	Phrase string
}

// Rules are the exercise refinements in priority order. The first rule whose
// tag appears in the classification wins.
var Rules = map[string][]Rule{
	Squat: {
		{"depth", "Go deeper"},
		{"knee", "Watch your knees"},
		{"back", "Keep your back straight"},
	},
	Plank: {
		{"hip", "Level your hips"},
		{"arm", "Strong arms"},
	},
	Lunge: {
		{"balance", "Find your balance"},
		{"step", "Bigger step"},
	},
}

// Config holds the composer and gate thresholds.
type Config struct {
	// RefineBelow is the accuracy under which refinements are considered.
	RefineBelow float64
	// OverrideBelow is the accuracy under which a refinement replaces the
	// primary phrase.
	OverrideBelow float64
	// AccuracyDelta is the accuracy change that makes a repeated cue
	// significant.
	AccuracyDelta float64
	// RepeatAfter is how long after which the same cue may be spoken again.
	RepeatAfter time.Duration
	// FuzzyThreshold is the minimum Jaro-Winkler score for exercise names.
	FuzzyThreshold float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		RefineBelow:    65,
		OverrideBelow:  50,
		AccuracyDelta:  10,
		RepeatAfter:    2 * time.Second,
		FuzzyThreshold: defaultFuzzyThreshold,
	}
}

// withDefaults fills zero fields from [DefaultConfig].
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RefineBelow == 0 {
		c.RefineBelow = d.RefineBelow
	}
	if c.OverrideBelow == 0 {
		c.OverrideBelow = d.OverrideBelow
	}
	if c.AccuracyDelta == 0 {
		c.AccuracyDelta = d.AccuracyDelta
	}
	if c.RepeatAfter == 0 {
		c.RepeatAfter = d.RepeatAfter
	}
	if c.FuzzyThreshold == 0 {
		c.FuzzyThreshold = d.FuzzyThreshold
	}
	return c
}

// Composer maps classifications to utterances. It is stateless and safe for
// concurrent use.
type Composer struct {
	cfg Config
}

// NewComposer creates a Composer. Zero fields in cfg take their defaults.
func NewComposer(cfg Config) *Composer {
	return &Composer{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (c *Composer) Config() Config { return c.cfg }

// Compose returns the cue for cls as a real-time, normal-priority utterance.
func (c *Composer) Compose(cls pose.PoseClassification) scheduler.Utterance {
	acc := pose.ClampAccuracy(cls.Accuracy)
	return scheduler.Utterance{
		Text:     c.Phrase(cls),
		Priority: scheduler.Normal,
		Realtime: true,
		Accuracy: acc,
	}
}

// Phrase returns the text [Composer.Compose] would speak for cls.
func (c *Composer) Phrase(cls pose.PoseClassification) string {
	acc := pose.ClampAccuracy(cls.Accuracy)
	primary := BandPhrase(acc)
	if acc >= c.cfg.RefineBelow {
		return primary
	}
	refinement := c.Refinement(cls)
	if refinement != "" && acc < c.cfg.OverrideBelow {
		return refinement
	}
	return primary
}

// Refinement returns the first matching exercise rule for cls, or "".
func (c *Composer) Refinement(cls pose.PoseClassification) string {
	ex := ResolveExercise(cls.ExerciseName, c.cfg.FuzzyThreshold)
	for _, r := range Rules[ex] {
		if cls.HasTag(r.Tag) {
			return r.Phrase
		}
	}
	return ""
}

// BandPhrase returns the primary phrase for an accuracy in [0, 100].
// Out-of-range values are clamped.
func BandPhrase(accuracy float64) string {
	accuracy = pose.ClampAccuracy(accuracy)
	for _, b := range Bands {
		if accuracy >= b.Min {
			return b.Phrase
		}
	}
	return Bands[len(Bands)-1].Phrase
}
