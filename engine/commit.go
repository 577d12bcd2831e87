package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"scbe/course"
	"scbe/reconcile"
	"scbe/steps"
	"scbe/store"
)

var errContentChanged = errors.New("content changed during sweep")

// commit writes seed data, content and step marker in this order, then
// flushes project file. It is the only write path for manual, automatic and
// step transition saves and always runs under scheduler commit lock.
func (e *Engine) commit(ctx context.Context) error {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return ErrNoProject
	}
	seed, content, step, sweep := sess.seed, sess.content, sess.gate.Current(), sess.sweep
	e.mu.Unlock()

	st := sess.store
	if seed != nil {
		if err := saveJSON(ctx, st, store.KeySeed, seed); err != nil {
			return err
		}
	}
	if content != nil {
		if err := saveJSON(ctx, st, store.KeyContent, content); err != nil {
			return err
		}
	}
	if err := saveJSON(ctx, st, store.KeyCurrentStep, steps.Marker{Step: step}); err != nil {
		return err
	}
	if seed != nil {
		meta, err := st.GetCourseMetadata(ctx)
		if err != nil {
			return fmt.Errorf("unable to read project metadata: %w", err)
		}
		if err := st.SaveCourseMetadata(ctx, course.FoldSeed(meta, seed)); err != nil {
			return fmt.Errorf("unable to update project metadata: %w", err)
		}
	}
	st.SetCurrentStep(step.String())
	if err := st.SaveProject(ctx); err != nil {
		return fmt.Errorf("unable to save project: %w", err)
	}

	if sweep && content != nil {
		e.sweepAfterCommit(ctx, sess, content)
	}
	return nil
}

// sweepAfterCommit strips orphaned references from just committed content.
// Problems are logged, the commit itself already succeeded.
func (e *Engine) sweepAfterCommit(ctx context.Context, sess *session, content *course.CourseContent) {
	if _, err := e.sweep(ctx, sess, content); err != nil {
		e.log.Warn("Orphan sweep failed, will retry after next save", zap.String("project", sess.id), zap.Error(err))
		return
	}
	e.mu.Lock()
	sess.sweep = false
	e.mu.Unlock()
}

// sweep removes references to missing media from content and persists
// cleaned content. Returns ids of removed references.
func (e *Engine) sweep(ctx context.Context, sess *session, content *course.CourseContent) ([]string, error) {
	exists := func(ctx context.Context, id string) (bool, error) {
		return sess.media.Exists(ctx, sess.id, id)
	}
	res, err := reconcile.Sweep(ctx, content, exists, e.cfg.SweepConcurrency)
	if err != nil {
		return nil, err
	}
	if len(res.Unknown) > 0 {
		e.log.Warn("Unable to check media, references kept", zap.Strings("ids", res.Unknown))
	}
	if len(res.Removed) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	stale := sess.content != content
	e.mu.Unlock()
	if stale {
		return nil, errContentChanged
	}
	if err := saveJSON(ctx, sess.store, store.KeyContent, res.Content); err != nil {
		return nil, err
	}
	if err := sess.store.SaveProject(ctx); err != nil {
		return nil, fmt.Errorf("unable to save project: %w", err)
	}

	e.mu.Lock()
	if sess.content == content {
		sess.content = res.Content
	}
	e.mu.Unlock()

	e.log.Info("Removed references to missing media", zap.String("project", sess.id), zap.Strings("ids", res.Removed))
	e.notifier.Notify(Info, fmt.Sprintf("Removed %d reference(s) to missing media", len(res.Removed)))
	return res.Removed, nil
}

// Save commits immediately and reports outcome to the user.
func (e *Engine) Save(ctx context.Context) error {
	if e.current() == nil {
		return ErrNoProject
	}
	e.debouncer.Flush()
	if err := e.scheduler.Save(ctx); err != nil {
		e.notifier.Notify(Error, fmt.Sprintf("Unable to save project: %v", err))
		return err
	}
	e.notifier.Notify(Success, "Project saved")
	return nil
}

// Sweep checks media references of opened project right away. Returns ids
// of removed references.
func (e *Engine) Sweep(ctx context.Context) ([]string, error) {
	var removed []string
	err := e.scheduler.Exclusive(func() (err error) {
		e.mu.Lock()
		sess := e.sess
		var content *course.CourseContent
		if sess != nil {
			content = sess.content
		}
		e.mu.Unlock()
		if sess == nil {
			return ErrNoProject
		}
		removed, err = e.sweep(ctx, sess, content)
		return err
	})
	return removed, err
}
