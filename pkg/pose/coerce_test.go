package pose_test

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/MrWong99/posecoach/pkg/pose"
)

// decodeJSON unmarshals s into an untyped value, as the normalizer does.
func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", s, err)
	}
	return v
}

func TestCoerceLandmarks_ShapeEquivalence(t *testing.T) {
	t.Parallel()

	want := []pose.Landmark{{X: 1, Y: 2, Z: 0}}

	inputs := map[string]any{
		"array":  decodeJSON(t, `[{"x":1,"y":2}]`),
		"object": decodeJSON(t, `{"0":{"x":1,"y":2}}`),
		"string": `[{"x":1,"y":2}]`,
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := pose.CoerceLandmarks(in)
			if err != nil {
				t.Fatalf("CoerceLandmarks: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestCoerceLandmarks_Idempotent(t *testing.T) {
	t.Parallel()

	first, err := pose.CoerceLandmarks(decodeJSON(t, `[[1,2,3],{"X":4,"Y":5},null,{"x":"0.5","y":0.25,"z":1}]`))
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}

	second, err := pose.CoerceLandmarks(first)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-coercion changed sequence:\n first  %+v\n second %+v", first, second)
	}

	// Round-tripping through JSON must also be stable.
	data, _ := json.Marshal(first)
	third, err := pose.CoerceLandmarks(string(data))
	if err != nil {
		t.Fatalf("json pass: %v", err)
	}
	if !reflect.DeepEqual(first, third) {
		t.Errorf("json re-coercion changed sequence:\n first %+v\n third %+v", first, third)
	}
}

func TestCoerceLandmarks_IndexKeysSortNumerically(t *testing.T) {
	t.Parallel()

	got, err := pose.CoerceLandmarks(decodeJSON(t, `{"10":{"x":10,"y":10},"2":{"x":2,"y":2},"1":{"x":1,"y":1},"extra":{"x":99,"y":99}}`))
	if err != nil {
		t.Fatalf("CoerceLandmarks: %v", err)
	}
	want := []float64{1, 2, 10, 99}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, x := range want {
		if got[i].X != x {
			t.Errorf("got[%d].X = %v, want %v", i, got[i].X, x)
		}
	}
}

func TestCoerceLandmarks_BadString(t *testing.T) {
	t.Parallel()

	got, err := pose.CoerceLandmarks("{not json")
	if !errors.Is(err, pose.ErrUndecodable) {
		t.Fatalf("err = %v, want ErrUndecodable", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestCoerceLandmarks_Unsupported(t *testing.T) {
	t.Parallel()

	for _, in := range []any{nil, 42.0, true, `"just a string"`} {
		got, err := pose.CoerceLandmarks(in)
		if err != nil {
			t.Errorf("CoerceLandmarks(%v): unexpected error %v", in, err)
		}
		if got != nil {
			t.Errorf("CoerceLandmarks(%v) = %+v, want nil", in, got)
		}
	}
}

func TestCoerceLandmark(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want pose.Landmark
	}{
		{"xy object", `{"x":1,"y":2}`, pose.Landmark{X: 1, Y: 2}},
		{"xyz object", `{"x":1,"y":2,"z":3}`, pose.Landmark{X: 1, Y: 2, Z: 3}},
		{"numeric strings", `{"x":"1.5","y":"2"}`, pose.Landmark{X: 1.5, Y: 2}},
		{"pair array", `[0.1,0.2]`, pose.Landmark{X: 0.1, Y: 0.2}},
		{"triple array", `[0.1,0.2,0.3]`, pose.Landmark{X: 0.1, Y: 0.2, Z: 0.3}},
		{"upper case keys", `{"X":4,"Y":5,"Z":6}`, pose.Landmark{X: 4, Y: 5, Z: 6}},
		{"prefixed keys", `{"position_x":7,"position_y":8,"position_z":9}`, pose.Landmark{X: 7, Y: 8, Z: 9}},
		{"x without y falls through", `{"x":3,"Y":4}`, pose.Landmark{X: 3, Y: 4}},
		{"null", `null`, pose.Landmark{}},
		{"number", `12`, pose.Landmark{}},
		{"garbage coordinates", `{"x":"abc","y":{}}`, pose.Landmark{}},
		{"empty array", `[]`, pose.Landmark{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var raw any
			if err := json.Unmarshal([]byte(tc.in), &raw); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := pose.CoerceLandmark(raw); got != tc.want {
				t.Errorf("CoerceLandmark(%s) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestCoerceLandmark_NonFinite(t *testing.T) {
	t.Parallel()

	got := pose.CoerceLandmark(pose.Landmark{X: math.NaN(), Y: math.Inf(1), Z: 2})
	if got != (pose.Landmark{Z: 2}) {
		t.Errorf("got %+v, want non-finite coordinates zeroed", got)
	}

	got = pose.CoerceLandmark(map[string]any{"x": "NaN", "y": "Inf"})
	if !got.IsZero() {
		t.Errorf("got %+v, want origin for NaN/Inf strings", got)
	}
}

func TestPoseFrame_Usable(t *testing.T) {
	t.Parallel()

	f := pose.PoseFrame{Landmarks: []pose.Landmark{{X: 1}, {Y: 1}, {Z: 1}, {}, {X: 1, Y: 1}}}
	if got := f.NonZeroCount(); got != 4 {
		t.Fatalf("NonZeroCount = %d, want 4", got)
	}
	if f.Usable() {
		t.Error("frame with 4 non-zero landmarks should not be usable")
	}
	f.Landmarks = append(f.Landmarks, pose.Landmark{X: 0.5})
	if !f.Usable() {
		t.Error("frame with 5 non-zero landmarks should be usable")
	}
}

func TestPoseClassification_HasTag(t *testing.T) {
	t.Parallel()

	c := pose.PoseClassification{FeedbackTags: []string{"Knee bend too shallow", "back"}}
	if !c.HasTag("knee") {
		t.Error("HasTag(knee) = false, want true")
	}
	if c.HasTag("hip") {
		t.Error("HasTag(hip) = true, want false")
	}
}

func TestClampAccuracy(t *testing.T) {
	t.Parallel()

	for in, want := range map[float64]float64{-5: 0, 0: 0, 42.5: 42.5, 100: 100, 180: 100} {
		if got := pose.ClampAccuracy(in); got != want {
			t.Errorf("ClampAccuracy(%v) = %v, want %v", in, got, want)
		}
	}
	if got := pose.ClampAccuracy(math.NaN()); got != 0 {
		t.Errorf("ClampAccuracy(NaN) = %v, want 0", got)
	}
}
