package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"scbe/autosave"
	"scbe/course"
	"scbe/steps"
)

// ReplaceContent installs new content value. Caller keeps ownership of c,
// engine stores its own copy.
func (e *Engine) ReplaceContent(c *course.CourseContent) error {
	if c == nil {
		return fmt.Errorf("%w: content is absent, use ClearContent", course.ErrInvalidContent)
	}
	return e.install(normalize(c), false)
}

// ImportContent validates course JSON and makes it the content of the
// project. Orphan sweep runs after the next successful commit.
func (e *Engine) ImportContent(data []byte) (*course.CourseContent, error) {
	c, err := course.Parse(data)
	if err != nil {
		return nil, err
	}
	if e.cfg.SanitizeHTML {
		c = course.Sanitize(c)
	}
	c = normalize(c)
	if err := e.install(c, true); err != nil {
		return nil, err
	}
	e.log.Info("Course content imported", zap.Int("topics", len(c.Topics)), zap.Int("media", len(c.MediaIDs())))
	return c, nil
}

func (e *Engine) install(c *course.CourseContent, sweep bool) error {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return ErrNoProject
	}
	sess.content = c
	if sweep {
		sess.sweep = true
	}
	e.mu.Unlock()

	e.debouncer.Observe(autosave.SectionContent, func() bool {
		return e.currentContent().HasTopics()
	})
	return nil
}

// UpdateSeed installs new seed data.
func (e *Engine) UpdateSeed(seed *course.CourseSeedData) error {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return ErrNoProject
	}
	sess.seed = seed.Clone()
	e.mu.Unlock()

	e.debouncer.Observe(autosave.SectionSeed, func() bool {
		return e.currentSeed().Meaningful()
	})
	return nil
}

func (e *Engine) currentContent() *course.CourseContent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.content
}

func (e *Engine) currentSeed() *course.CourseSeedData {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.seed
}

// Next moves to the following step and saves.
func (e *Engine) Next(ctx context.Context) (steps.Step, error) {
	return e.move(ctx, func(g *steps.Gate) error {
		_, err := g.Next()
		return err
	})
}

// Back moves to the preceding step and saves.
func (e *Engine) Back(ctx context.Context) (steps.Step, error) {
	return e.move(ctx, func(g *steps.Gate) error {
		_, err := g.Back()
		return err
	})
}

// JumpTo moves to previously visited step and saves.
func (e *Engine) JumpTo(ctx context.Context, s steps.Step) (steps.Step, error) {
	return e.move(ctx, func(g *steps.Gate) error {
		return g.JumpTo(s)
	})
}

func (e *Engine) move(ctx context.Context, fn func(g *steps.Gate) error) (steps.Step, error) {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return steps.StepSeed, ErrNoProject
	}
	from := sess.gate.Current()
	if err := fn(sess.gate); err != nil {
		e.mu.Unlock()
		return from, err
	}
	to := sess.gate.Current()
	e.mu.Unlock()

	e.log.Debug("Step changed", zap.Stringer("from", from), zap.Stringer("to", to))
	e.tracker.MarkDirty(autosave.SectionStep)
	e.debouncer.Flush()
	if err := e.scheduler.Save(ctx); err != nil {
		e.notifier.Notify(Error, fmt.Sprintf("Unable to save project: %v", err))
		return to, err
	}
	return to, nil
}

// normalize returns copy of content with all lists present.
func normalize(c *course.CourseContent) *course.CourseContent {
	out := c.Clone()
	if out.Topics == nil {
		out.Topics = []course.Page{}
	}
	for _, b := range out.Buckets() {
		if b.Page.Media == nil {
			b.Page.Media = []course.MediaReference{}
		}
	}
	if out.Assessment.Questions == nil {
		out.Assessment.Questions = []course.Question{}
	}
	return out
}
