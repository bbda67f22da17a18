package normalize

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/posecoach/pkg/pose"
)

func TestDecode_KnownChannel(t *testing.T) {
	t.Parallel()

	payload := `{
		"landmarks": [{"x": 0.5, "y": 0.25}, [0.1, 0.2, 0.3]],
		"image_dimensions": {"width": 1280, "height": 720},
		"exercise_name": "squat",
		"accuracy": 72.5,
		"correct_form": true,
		"feedback": ["knee bend", "", 3]
	}`
	d, err := Decode(PrimaryChannel, []byte(payload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Kind != KindFrame|KindClassification {
		t.Fatalf("Kind = %v, want frame+classification", d.Kind)
	}
	wantLms := []pose.Landmark{{X: 0.5, Y: 0.25}, {X: 0.1, Y: 0.2, Z: 0.3}}
	if !slices.Equal(d.Frame.Landmarks, wantLms) {
		t.Errorf("Landmarks = %v, want %v", d.Frame.Landmarks, wantLms)
	}
	if d.Frame.ImageDimensions != (pose.ImageDimensions{Width: 1280, Height: 720}) {
		t.Errorf("ImageDimensions = %v", d.Frame.ImageDimensions)
	}
	c := d.Classification
	if c.ExerciseName != "squat" || c.Accuracy != 72.5 || !c.CorrectForm {
		t.Errorf("Classification = %+v", c)
	}
	if !slices.Equal(c.FeedbackTags, []string{"knee bend"}) {
		t.Errorf("FeedbackTags = %v, want [knee bend]", c.FeedbackTags)
	}
}

func TestDecode_ShapeEquivalence(t *testing.T) {
	t.Parallel()

	want := []pose.Landmark{{X: 1, Y: 2, Z: 0}}
	for _, payload := range []string{
		`{"landmarks": [{"x": 1, "y": 2}]}`,
		`{"landmarks": {"0": {"x": 1, "y": 2}}}`,
		`{"landmarks": "[{\"x\":1,\"y\":2}]"}`,
	} {
		d, err := Decode("landmarks", []byte(payload))
		if err != nil {
			t.Fatalf("Decode(%s): %v", payload, err)
		}
		if !slices.Equal(d.Frame.Landmarks, want) {
			t.Errorf("Decode(%s) landmarks = %v, want %v", payload, d.Frame.Landmarks, want)
		}
	}
}

func TestDecode_DefaultDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    pose.ImageDimensions
	}{
		{"absent", `{"landmarks": [[1, 2]]}`, pose.DefaultImageDimensions},
		{"zero", `{"landmarks": [[1, 2]], "image_dimensions": {"width": 0, "height": 0}}`, pose.DefaultImageDimensions},
		{"not an object", `{"landmarks": [[1, 2]], "image_dimensions": "big"}`, pose.DefaultImageDimensions},
		{"dimensions alias", `{"landmarks": [[1, 2]], "dimensions": {"width": "320", "height": 240}}`, pose.ImageDimensions{Width: 320, Height: 240}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := Decode(PrimaryChannel, []byte(tt.payload))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if d.Frame.ImageDimensions != tt.want {
				t.Errorf("ImageDimensions = %v, want %v", d.Frame.ImageDimensions, tt.want)
			}
		})
	}
}

func TestDecode_Accuracy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    float64
	}{
		{"accuracy", `{"exercise_name": "plank", "accuracy": 88}`, 88},
		{"accuracy string", `{"exercise_name": "plank", "accuracy": "42"}`, 42},
		{"accuracy above range", `{"exercise_name": "plank", "accuracy": 130}`, 100},
		{"accuracy negative", `{"exercise_name": "plank", "accuracy": -5}`, 0},
		{"normalized score", `{"exercise_name": "plank", "score": 0.85}`, 85},
		{"percent score", `{"exercise_name": "plank", "score": 55}`, 55},
		{"accuracy wins over score", `{"exercise_name": "plank", "accuracy": 10, "score": 0.9}`, 10},
		{"absent", `{"exercise_name": "plank"}`, 100},
		{"garbage", `{"exercise_name": "plank", "accuracy": "high"}`, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := Decode(PrimaryChannel, []byte(tt.payload))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := d.Classification.Accuracy; got != tt.want {
				t.Errorf("Accuracy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode_ExerciseNameSpellings(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		`{"exercise_name": "lunge"}`,
		`{"poseName": "lunge"}`,
		`{"pose_name": "lunge"}`,
		`{"exercise_name": "  ", "pose_name": "lunge"}`,
	} {
		d, err := Decode("pose_result", []byte(payload))
		if err != nil {
			t.Fatalf("Decode(%s): %v", payload, err)
		}
		if !d.Kind.Has(KindClassification) || d.Classification.ExerciseName != "lunge" {
			t.Errorf("Decode(%s) = %+v, want lunge classification", payload, d)
		}
		if d.Kind.Has(KindFrame) {
			t.Errorf("Decode(%s) produced a frame without landmarks", payload)
		}
	}
}

func TestDecode_FeedbackString(t *testing.T) {
	t.Parallel()

	d, err := Decode(PrimaryChannel, []byte(`{"pose_name": "squat", "feedback": "back arched"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !slices.Equal(d.Classification.FeedbackTags, []string{"back arched"}) {
		t.Errorf("FeedbackTags = %v", d.Classification.FeedbackTags)
	}
}

func TestDecode_UndecodableLandmarkString(t *testing.T) {
	t.Parallel()

	d, err := Decode(PrimaryChannel, []byte(`{"landmarks": "not json", "exercise_name": "squat"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !errors.Is(d.LandmarkErr, pose.ErrUndecodable) {
		t.Errorf("LandmarkErr = %v, want ErrUndecodable", d.LandmarkErr)
	}
	if d.Kind != KindClassification {
		t.Errorf("Kind = %v, want classification only", d.Kind)
	}
}

func TestDecode_EmptyLandmarks(t *testing.T) {
	t.Parallel()

	d, err := Decode("skeleton", []byte(`{"landmarks": []}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Kind != KindUnrecognized {
		t.Errorf("Kind = %v, want unrecognized", d.Kind)
	}
}

func TestDecode_TestData(t *testing.T) {
	t.Parallel()

	d, err := Decode(PrimaryChannel, []byte(`{"landmarks": [[1, 1]], "exercise_name": "squat", "test_data": true}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !d.TestData || !d.Classification.TestData {
		t.Errorf("test data flag not carried: %+v", d)
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{`not json`, `[1, 2]`, `"landmarks"`, `null`} {
		_, err := Decode(PrimaryChannel, []byte(payload))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%s) err = %v, want ErrMalformed", payload, err)
		}
	}
}

func TestDecode_IgnoredChannels(t *testing.T) {
	t.Parallel()

	for _, ch := range IgnoredChannels {
		d, err := Decode(ch, []byte(`{"landmarks": [[1, 2]]}`))
		if err != nil || d.Kind != KindUnrecognized {
			t.Errorf("Decode(%s) = %v, %v; want unrecognized", ch, d.Kind, err)
		}
	}
}

func TestDecode_Wildcard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		wantProp string
		wantLen  int
	}{
		{"landmarks", `{"landmarks": [[1, 2], [3, 4]]}`, "landmarks", 2},
		{"keypoints object", `{"keypoints": {"1": [1, 2], "0": [3, 4]}}`, "keypoints", 2},
		{"first non-empty wins", `{"landmarks": [], "skeleton": [[1, 2]], "points": [[1, 2], [3, 4]]}`, "skeleton", 1},
		{"string skipped", `{"landmarks": "[[1,2]]", "pose": [[5, 6]]}`, "pose", 1},
		{"scalar skipped", `{"keypoints": 12, "points": [[7, 8]]}`, "points", 1},
		{"nothing", `{"status": "ok"}`, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := Decode("inference_update", []byte(tt.payload))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if d.Property != tt.wantProp || len(d.Frame.Landmarks) != tt.wantLen {
				t.Errorf("Property = %q (%d landmarks), want %q (%d)", d.Property, len(d.Frame.Landmarks), tt.wantProp, tt.wantLen)
			}
			if tt.wantLen > 0 && d.Frame.ImageDimensions != pose.DefaultImageDimensions {
				t.Errorf("ImageDimensions = %v, want default", d.Frame.ImageDimensions)
			}
		})
	}
}

func TestDecode_WildcardIgnoresClassification(t *testing.T) {
	t.Parallel()

	d, err := Decode("inference_update", []byte(`{"exercise_name": "squat", "accuracy": 90}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Kind != KindUnrecognized {
		t.Errorf("Kind = %v, want unrecognized", d.Kind)
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		k    Kind
		want string
	}{
		{KindUnrecognized, "unrecognized"},
		{KindFrame, "frame"},
		{KindClassification, "classification"},
		{KindFrame | KindClassification, "frame+classification"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}
