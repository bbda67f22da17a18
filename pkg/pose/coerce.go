package pose

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrUndecodable is reported by [CoerceLandmarks] when landmarks arrived as a
// string that is not valid JSON. The landmarks are treated as absent.
var ErrUndecodable = errors.New("pose: landmarks string is not valid JSON")

// Alternate coordinate keys, tried in order after the lower-case key.
var (
	altX = []string{"x", "X", "position_x", "positionX"}
	altY = []string{"y", "Y", "position_y", "positionY"}
	altZ = []string{"z", "Z", "position_z", "positionZ"}
)

// CoerceLandmarks converts a raw landmark container into an ordered landmark
// sequence. Accepted containers:
//
//   - a sequence of points ([]any, []Landmark)
//   - a mapping keyed by index ({"0": {...}, "1": {...}}), ordered by numeric
//     key; non-numeric keys sort after numeric ones, lexically
//   - a JSON string holding either of the above
//
// Each element is converted with [CoerceLandmark]. A nil or unsupported
// container yields nil. The only error is [ErrUndecodable]; the returned
// slice is nil in that case and callers should treat it as advisory.
func CoerceLandmarks(v any) ([]Landmark, error) {
	switch raw := v.(type) {
	case nil:
		return nil, nil
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		if _, nested := decoded.(string); nested {
			return nil, nil
		}
		return CoerceLandmarks(decoded)
	case []Landmark:
		out := make([]Landmark, len(raw))
		for i, l := range raw {
			out[i] = l.sanitize()
		}
		return out, nil
	case []any:
		out := make([]Landmark, len(raw))
		for i, el := range raw {
			out[i] = CoerceLandmark(el)
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareIndexKeys)
		out := make([]Landmark, len(keys))
		for i, k := range keys {
			out[i] = CoerceLandmark(raw[k])
		}
		return out, nil
	}
	return nil, nil
}

// CoerceLandmark converts one raw point into a [Landmark], trying in order:
// an object with x and y, an [x, y] or [x, y, z] array, an object with
// alternate-cased or prefixed keys, and finally the origin.
func CoerceLandmark(v any) Landmark {
	switch p := v.(type) {
	case Landmark:
		return p.sanitize()
	case *Landmark:
		if p == nil {
			return Landmark{}
		}
		return p.sanitize()
	case map[string]any:
		_, hasX := p["x"]
		_, hasY := p["y"]
		if hasX && hasY {
			return Landmark{X: numberOrZero(p["x"]), Y: numberOrZero(p["y"]), Z: numberOrZero(p["z"])}
		}
		return Landmark{X: firstKey(p, altX), Y: firstKey(p, altY), Z: firstKey(p, altZ)}
	case []any:
		var l Landmark
		if len(p) > 0 {
			l.X = numberOrZero(p[0])
		}
		if len(p) > 1 {
			l.Y = numberOrZero(p[1])
		}
		if len(p) > 2 {
			l.Z = numberOrZero(p[2])
		}
		return l
	case []float64:
		return CoerceLandmark(floatsToAny(p))
	}
	return Landmark{}
}

// Number converts a loosely typed JSON scalar into a finite float64. Strings
// are parsed; booleans are not numbers. ok is false for anything else.
func Number(v any) (f float64, ok bool) {
	switch n := v.(type) {
	case float64:
		f, ok = n, true
	case float32:
		f, ok = float64(n), true
	case int:
		f, ok = float64(n), true
	case int64:
		f, ok = float64(n), true
	case json.Number:
		parsed, err := n.Float64()
		f, ok = parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		f, ok = parsed, err == nil
	}
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numberOrZero(v any) float64 {
	f, _ := Number(v)
	return f
}

// firstKey returns the first non-zero numeric value among keys, mirroring a
// chain of "a || b || c || 0" lookups.
func firstKey(m map[string]any, keys []string) float64 {
	for _, k := range keys {
		if f, ok := Number(m[k]); ok && f != 0 {
			return f
		}
	}
	return 0
}

func compareIndexKeys(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return cmp.Compare(ai, bi)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

func floatsToAny(fs []float64) []any {
	out := make([]any, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
