package steps

import (
	"fmt"

	"scbe/course"
)

// Gate tracks current step and which steps were visited. Visiting a step
// marks all steps before it as visited too. Gate is not safe for concurrent
// use.
type Gate struct {
	current Step
	highest Step
}

// NewGate returns gate positioned at start with all preceding steps visited.
func NewGate(start Step) *Gate {
	if !start.IsValid() {
		start = StepSeed
	}
	return &Gate{current: start, highest: start}
}

func (g *Gate) Current() Step {
	return g.current
}

// Visited reports whether step was reached.
func (g *Gate) Visited(s Step) bool {
	return s.IsValid() && s <= g.highest
}

// VisitedSteps lists visited steps in order.
func (g *Gate) VisitedSteps() []Step {
	out := make([]Step, 0, g.highest.Index()+1)
	for s := First; s <= g.highest; s++ {
		out = append(out, s)
	}
	return out
}

// Visit moves gate to the step unconditionally.
func (g *Gate) Visit(s Step) {
	if !s.IsValid() {
		return
	}
	g.current = s
	if s > g.highest {
		g.highest = s
	}
}

func (g *Gate) Next() (Step, error) {
	if g.current == Last {
		return g.current, ErrOutOfRange
	}
	g.Visit(g.current + 1)
	return g.current, nil
}

func (g *Gate) Back() (Step, error) {
	if g.current == First {
		return g.current, ErrOutOfRange
	}
	g.current--
	return g.current, nil
}

// JumpTo moves to previously visited step.
func (g *Gate) JumpTo(s Step) error {
	if !g.Visited(s) {
		return fmt.Errorf("%w: %s", ErrNotVisited, s)
	}
	g.current = s
	return nil
}

// Decision describes how resume step was chosen.
type Decision struct {
	Step Step
	// Inferred is set when there was no persisted step, inferred value has
	// to be persisted.
	Inferred bool
	// Downgraded is set when persisted step could not be honored, From holds
	// the original value.
	Downgraded bool
	From       Step
}

// Resume decides on which step project should be reopened. Persisted step
// is nil when project never stored one.
func Resume(persisted *Step, content *course.CourseContent, seed *course.CourseSeedData) Decision {
	if persisted == nil || !persisted.IsValid() {
		return Decision{Step: Infer(content, seed), Inferred: true}
	}
	if persisted.RequiresContent() && !content.HasTopics() {
		return Decision{Step: StepSeed, Downgraded: true, From: *persisted}
	}
	return Decision{Step: *persisted}
}

// Infer picks resume step from available data alone.
func Infer(content *course.CourseContent, seed *course.CourseSeedData) Step {
	switch {
	case content.HasTopics() && content.HasMediaReferences():
		return StepActivities
	case content.HasTopics():
		return StepMedia
	case seed != nil:
		return StepPrompt
	default:
		return StepSeed
	}
}
