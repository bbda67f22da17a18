package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/posecoach/pkg/pose"
)

// ErrMalformed is returned by [Decode] when a payload is not a JSON object.
var ErrMalformed = errors.New("normalize: malformed payload")

// PrimaryChannel carries the inference service's analysis results.
const PrimaryChannel = "pose_analysis_result"

// AnalysisErrorChannel carries inference failures for a submitted frame.
const AnalysisErrorChannel = "pose_analysis_error"

// KnownChannels are dispatched directly. The list is case-sensitive.
var KnownChannels = []string{
	PrimaryChannel,
	"landmarks",
	"pose",
	"pose_landmarks",
	"pose_detection",
	"keypoints",
	"skeleton",
	"body_landmarks",
	"body_pose",
	"analysis_result",
	"pose_result",
	"exercise_analysis",
}

// WildcardProperties are probed, in order, on messages from unknown channels.
var WildcardProperties = []string{"landmarks", "keypoints", "skeleton", "points", "pose"}

// IgnoredChannels are lifecycle events that never carry pose data.
var IgnoredChannels = []string{"connect", "disconnect", "connection", "error", "reconnect"}

// Kind is a bit set describing what a message decoded into.
type Kind uint8

const (
	// KindFrame is set when the message produced a non-empty [pose.PoseFrame].
	KindFrame Kind = 1 << iota
	// KindClassification is set when the message named an exercise.
	KindClassification
)

// KindUnrecognized means the message carried nothing usable.
const KindUnrecognized Kind = 0

// Has reports whether all bits of k2 are set in k.
func (k Kind) Has(k2 Kind) bool { return k2 != 0 && k&k2 == k2 }

// String returns a short label such as "frame+classification".
func (k Kind) String() string {
	var parts []string
	if k.Has(KindFrame) {
		parts = append(parts, "frame")
	}
	if k.Has(KindClassification) {
		parts = append(parts, "classification")
	}
	if len(parts) == 0 {
		return "unrecognized"
	}
	return strings.Join(parts, "+")
}

// Decoded is the tagged-union result of decoding one wire message.
type Decoded struct {
	Kind           Kind
	Frame          pose.PoseFrame
	Classification pose.PoseClassification

	// TestData is set when the payload was flagged as synthetic.
	TestData bool

	// Property names the wildcard property the frame was found under. It is
	// empty for messages on known channels.
	Property string

	// LandmarkErr records a landmark field that could not be decoded. The
	// message is still usable; the frame is simply absent.
	LandmarkErr error
}

// IsKnownChannel reports whether channel is in [KnownChannels].
func IsKnownChannel(channel string) bool {
	return slices.Contains(KnownChannels, channel)
}

// IsIgnoredChannel reports whether channel is in [IgnoredChannels].
func IsIgnoredChannel(channel string) bool {
	return slices.Contains(IgnoredChannels, channel)
}

// Decode turns one raw message into a [Decoded] value. Known channels are
// decoded field by field; any other channel goes through the wildcard probe.
// Ignored channels always decode to [KindUnrecognized].
//
// The only error is [ErrMalformed]. Bad fields inside a well-formed object
// are coerced to defaults instead.
func Decode(channel string, payload []byte) (Decoded, error) {
	if IsIgnoredChannel(channel) || channel == AnalysisErrorChannel {
		return Decoded{}, nil
	}
	obj, err := decodeObject(payload)
	if err != nil {
		return Decoded{}, err
	}
	if IsKnownChannel(channel) {
		return decodeKnown(obj), nil
	}
	return decodeWildcard(obj), nil
}

func decodeObject(payload []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: want object, got %s", ErrMalformed, jsonType(v))
	}
	return obj, nil
}

func decodeKnown(obj map[string]any) Decoded {
	d := Decoded{TestData: obj["test_data"] == true}

	if raw, ok := obj["landmarks"]; ok && raw != nil {
		lms, err := pose.CoerceLandmarks(raw)
		if err != nil {
			d.LandmarkErr = err
		}
		if len(lms) > 0 {
			d.Kind |= KindFrame
			d.Frame = pose.PoseFrame{Landmarks: lms, ImageDimensions: dimensions(obj)}
		}
	}

	if name := exerciseName(obj); name != "" {
		d.Kind |= KindClassification
		d.Classification = pose.PoseClassification{
			ExerciseName: name,
			Accuracy:     accuracy(obj),
			CorrectForm:  obj["correct_form"] == true,
			FeedbackTags: feedbackTags(obj["feedback"]),
			TestData:     d.TestData,
		}
	}
	return d
}

// decodeWildcard probes [WildcardProperties] in order. A property whose
// probe panics or yields no landmarks is skipped; the first non-empty one
// wins.
func decodeWildcard(obj map[string]any) Decoded {
	for _, prop := range WildcardProperties {
		lms := probe(obj[prop])
		if len(lms) == 0 {
			continue
		}
		return Decoded{
			Kind:     KindFrame,
			Frame:    pose.PoseFrame{Landmarks: lms, ImageDimensions: dimensions(obj)},
			TestData: obj["test_data"] == true,
			Property: prop,
		}
	}
	return Decoded{}
}

func probe(v any) (lms []pose.Landmark) {
	switch v.(type) {
	case []any, map[string]any:
	default:
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			lms = nil
		}
	}()
	lms, _ = pose.CoerceLandmarks(v)
	return lms
}

func exerciseName(obj map[string]any) string {
	for _, k := range []string{"exercise_name", "poseName", "pose_name"} {
		if s, ok := obj[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// accuracy reads "accuracy", then "score". A score in (0, 1] is a
// normalized value and is scaled to percent. Absent values mean 100.
func accuracy(obj map[string]any) float64 {
	if v, ok := pose.Number(obj["accuracy"]); ok {
		return pose.ClampAccuracy(v)
	}
	if v, ok := pose.Number(obj["score"]); ok {
		if v > 0 && v <= 1 {
			v *= 100
		}
		return pose.ClampAccuracy(v)
	}
	return 100
}

func feedbackTags(v any) []string {
	switch f := v.(type) {
	case string:
		if f = strings.TrimSpace(f); f != "" {
			return []string{f}
		}
	case []any:
		tags := make([]string, 0, len(f))
		for _, el := range f {
			if s, ok := el.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.TrimSpace(s))
			}
		}
		if len(tags) > 0 {
			return tags
		}
	}
	return nil
}

// dimensions reads "image_dimensions" or "dimensions". Anything without a
// positive width and height falls back to [pose.DefaultImageDimensions].
func dimensions(obj map[string]any) pose.ImageDimensions {
	for _, k := range []string{"image_dimensions", "dimensions"} {
		m, ok := obj[k].(map[string]any)
		if !ok {
			continue
		}
		w, wok := pose.Number(m["width"])
		h, hok := pose.Number(m["height"])
		if wok && hok && w > 0 && h > 0 {
			return pose.ImageDimensions{Width: int(w), Height: int(h)}
		}
	}
	return pose.DefaultImageDimensions
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}
