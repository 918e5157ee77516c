package workflow

import "encoding/json"

const (
	ReviewRecommendation = "recommendation"
	ReviewCritical       = "critical"
	ReviewLiterary       = "literary"
)

// LetterSections are written in this order in letterGame.
var LetterSections = []string{"Greeting", "Opening", "Body", "Closing", "Signature"}

type ReviewOutline struct {
	Type    string   `json:"type"`
	Outline []string `json:"outline"`
}

var reviewOutlines = map[string][]string{
	ReviewRecommendation: {
		"Introduction - Hook your readers",
		"What I Loved - Share your favorite parts",
		"Why You Should Read It - Make your case",
		"Who Would Enjoy This - Help readers decide",
		"Conclusion - Final recommendation",
	},
	ReviewCritical: {
		"Introduction - Set the stage",
		"Strengths - What worked well",
		"Weaknesses - What didn't work",
		"Examples - Support your points",
		"Conclusion - Overall assessment",
	},
	ReviewLiterary: {
		"Introduction - Present the book",
		"Themes - Explore deeper meanings",
		"Literary Devices - Analyze techniques",
		"Character Analysis - Understand development",
		"Conclusion - Reflect on significance",
	},
}

// ValidReviewType reports whether t is one of the three review types.
func ValidReviewType(t string) bool {
	_, ok := reviewOutlines[t]
	return ok
}

// DefaultReviewOutline is the fixed outline the self-directed review variant
// writes against. ok is false for an unknown review type.
func DefaultReviewOutline(reviewType string) (ReviewOutline, bool) {
	outline, ok := reviewOutlines[reviewType]
	if !ok {
		return ReviewOutline{}, false
	}
	return ReviewOutline{Type: reviewType, Outline: append([]string{}, outline...)}, true
}

func (o ReviewOutline) raw() json.RawMessage {
	data, _ := json.Marshal(o)
	return data
}
