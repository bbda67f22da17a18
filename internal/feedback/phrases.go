package feedback

import (
	"math/rand/v2"
	"strconv"

	"github.com/MrWong99/posecoach/internal/scheduler"
)

// TestPhraseText is spoken by [TestPhrase].
const TestPhraseText = "Voice feedback is working correctly"

// Motivations are the encouragement phrases per exercise.
var Motivations = map[string][]string{
	Squat: {"Perfect squat!", "Feel the burn!", "Strong legs!", "Keep going!", "Powerful squats!"},
	Plank: {"Hold it steady!", "Core strength!", "Stay strong!", "Perfect plank!", "Rock solid!"},
	Lunge: {"Great balance!", "Strong lunge!", "Keep it up!", "Perfect form!", "Excellent control!"},
}

// Motivational picks a random encouragement for exercise using rng. Unknown
// exercises use the squat phrases. A nil rng uses the global source.
func (c *Composer) Motivational(exercise string, rng *rand.Rand) scheduler.Utterance {
	phrases, ok := Motivations[ResolveExercise(exercise, c.cfg.FuzzyThreshold)]
	if !ok {
		phrases = Motivations[Squat]
	}
	var i int
	if rng != nil {
		i = rng.IntN(len(phrases))
	} else {
		i = rand.IntN(len(phrases))
	}
	return scheduler.Utterance{Text: phrases[i], Priority: scheduler.High}
}

// Countdown returns the urgent cue for count: the number itself for 1 to 5
// and "Go!" for 0. ok is false for any other count.
func Countdown(count int) (u scheduler.Utterance, ok bool) {
	switch {
	case count == 0:
		return scheduler.Utterance{Text: "Go!", Priority: scheduler.Urgent}, true
	case count > 0 && count <= 5:
		return scheduler.Utterance{Text: strconv.Itoa(count), Priority: scheduler.Urgent}, true
	}
	return scheduler.Utterance{}, false
}

// TestPhrase returns the voice check utterance.
func TestPhrase() scheduler.Utterance {
	return scheduler.Utterance{Text: TestPhraseText, Priority: scheduler.High}
}
