// Package steps decides on which wizard step project should resume and
// guards navigation between steps.
package steps

import (
	"errors"
)

//go:generate go tool go-enum --marshal --nocase --names

// Step is a wizard step, steps are strictly ordered.
// ENUM(seed, prompt, json, media, audio, activities, scorm)
type Step int

// First and Last define the range of valid steps.
const (
	First = StepSeed
	Last  = StepScorm
)

var (
	// ErrNotVisited is returned on attempt to jump to a step which was never
	// reached.
	ErrNotVisited = errors.New("step was not visited")
	// ErrOutOfRange is returned when navigation moves past either end.
	ErrOutOfRange = errors.New("no step in this direction")
)

// Index returns numeric position of the step.
func (x Step) Index() int {
	return int(x)
}

// RequiresContent reports whether step could only be displayed when course
// content has topics.
func (x Step) RequiresContent() bool {
	return x >= StepMedia
}

// Marker is the persisted current step value.
type Marker struct {
	Step Step `json:"step"`
}
