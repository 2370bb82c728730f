package coach

import (
	"regexp"

	"github.com/freedive-ai/coach/pkg/models"
)

var (
	analysisPattern = regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|review (my|this|the|last) (dive|log|session)|feedback on|evaluate my|assess my|look at my (dive|log)|how did i do|what went wrong)`)
	affirmative     = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|sure|ok|okay|please|go ahead|do it|yes please)[\s.!]*$`)
	offerPattern    = regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|review|feedback)\b`)
)

// DetectAnalysisIntent reports whether the user is asking for an analysis of
// their dives. A bare affirmative only counts when the previous assistant
// turn offered an analysis.
func DetectAnalysisIntent(message string, history []models.ChatMessage) bool {
	if analysisPattern.MatchString(message) {
		return true
	}
	if !affirmative.MatchString(message) {
		return false
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return offerPattern.MatchString(history[i].Content)
		}
	}
	return false
}
