package feedback

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Exercises with a refinement table and motivational phrases, in the order
// they are matched.
const (
	Squat = "squat"
	Plank = "plank"
	Lunge = "lunge"
)

var exercises = []string{Squat, Plank, Lunge}

// defaultFuzzyThreshold is the minimum Jaro-Winkler score for a fuzzy
// exercise match.
const defaultFuzzyThreshold = 0.88

// ResolveExercise maps a free-form exercise name from the inference service
// to one of [Squat], [Plank] or [Lunge]. A name containing a known exercise
// matches it directly; otherwise the closest exercise by Jaro-Winkler
// similarity (whole name or any single word) is used when it scores at
// least threshold. It returns "" when nothing matches.
func ResolveExercise(name string, threshold float64) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	for _, ex := range exercises {
		if strings.Contains(name, ex) {
			return ex
		}
	}

	tokens := strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
	best, bestScore := "", 0.0
	for _, ex := range exercises {
		score := matchr.JaroWinkler(name, ex, false)
		for _, tok := range tokens {
			if s := matchr.JaroWinkler(tok, ex, false); s > score {
				score = s
			}
		}
		if score >= threshold && score > bestScore {
			best, bestScore = ex, score
		}
	}
	return best
}
