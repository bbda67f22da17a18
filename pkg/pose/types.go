// Package pose defines the canonical pose-analysis records shared by the
// normalizer, the feedback composer and any landmark observers.
//
// The inference service is loose about how it encodes skeleton points, so
// this package also owns the Landmark Coercer: a pure conversion from every
// point encoding seen on the wire into [Landmark] values. Coercion never
// fails; malformed points become the origin.
package pose

import "math"

// MinUsableLandmarks is the number of non-zero landmarks a frame needs before
// it is considered renderable. Usability is advisory only.
const MinUsableLandmarks = 5

// DefaultImageDimensions is used when a payload does not report the size of
// the analysed image.
var DefaultImageDimensions = ImageDimensions{Width: 640, Height: 480}

// Landmark is a single skeletal point. All three coordinates are always
// finite; missing or malformed coordinates are zero.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IsZero reports whether l is the origin, i.e. carries no information.
func (l Landmark) IsZero() bool {
	return l.X == 0 && l.Y == 0 && l.Z == 0
}

// sanitize replaces non-finite coordinates with zero.
func (l Landmark) sanitize() Landmark {
	return Landmark{X: finite(l.X), Y: finite(l.Y), Z: finite(l.Z)}
}

// ImageDimensions is the pixel size of the analysed video frame.
type ImageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether no dimensions were supplied.
func (d ImageDimensions) IsZero() bool {
	return d.Width == 0 && d.Height == 0
}

// PoseFrame is one analysed video frame's landmarks. ImageDimensions is
// always populated.
type PoseFrame struct {
	Landmarks       []Landmark      `json:"landmarks"`
	ImageDimensions ImageDimensions `json:"image_dimensions"`
}

// NonZeroCount returns the number of landmarks that are not the origin.
func (f PoseFrame) NonZeroCount() int {
	n := 0
	for _, l := range f.Landmarks {
		if !l.IsZero() {
			n++
		}
	}
	return n
}

// Usable reports whether the frame has at least [MinUsableLandmarks]
// non-zero landmarks.
func (f PoseFrame) Usable() bool {
	return f.NonZeroCount() >= MinUsableLandmarks
}

// PoseClassification is the exercise judgment for one analysed frame.
type PoseClassification struct {
	// ExerciseName is the exercise or pose as reported by the service
	// (e.g. "squat", "Plank").
	ExerciseName string

	// Accuracy is the form score in [0, 100].
	Accuracy float64

	// CorrectForm is the service's binary verdict on the current form.
	CorrectForm bool

	// FeedbackTags are free-text hints such as "knee bend" or "back arched".
	FeedbackTags []string

	// TestData is set when the payload was flagged as synthetic.
	TestData bool
}

// HasTag reports whether any feedback tag contains sub, case-insensitively.
func (c PoseClassification) HasTag(sub string) bool {
	for _, tag := range c.FeedbackTags {
		if containsFold(tag, sub) {
			return true
		}
	}
	return false
}

// ClampAccuracy limits v to [0, 100]. NaN becomes 0.
func ClampAccuracy(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
