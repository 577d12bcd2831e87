package store

import "fmt"

// Content keys. Other tools read these so names must not change.
const (
	KeySeed              = "courseSeedData"
	KeyContent           = "course-content"
	KeyWelcome           = "welcome"
	KeyObjectives        = "objectives"
	KeyAssessment        = "assessment"
	KeyActivities        = "activities"
	KeyQuiz              = "quiz"
	KeyCurrentStep       = "currentStep"
	KeyAudioNarration    = "audioNarration"
	KeyMediaEnhancements = "media-enhancements"
)

// NumberedKey returns legacy positional key, 0 and 1 are welcome and
// objectives pages.
func NumberedKey(i int) string {
	return fmt.Sprintf("content-%d", i)
}

// TopicKey returns legacy positional key of topic i.
func TopicKey(i int) string {
	return NumberedKey(2 + i)
}
