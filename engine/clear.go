package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"scbe/steps"
	"scbe/store"
)

// keys which survive clearing of content
var keptOnClear = map[string]bool{
	store.KeySeed:        true,
	store.KeyCurrentStep: true,
}

// ClearContent discards course content and then deletes all project media.
// Cleared content is persisted first, media is touched only after that
// succeeded. When content could not be cleared nothing else happens and
// ErrClearAborted is returned. Failure to delete media is only logged, a
// later sweep deals with leftovers.
func (e *Engine) ClearContent(ctx context.Context) error {
	sess := e.current()
	if sess == nil {
		return ErrNoProject
	}

	e.debouncer.Flush()
	err := e.scheduler.Exclusive(func() error {
		e.mu.Lock()
		content, gate, sweep := sess.content, sess.gate, sess.sweep
		sess.content, sess.gate, sess.sweep = nil, steps.NewGate(steps.StepJson), false
		e.mu.Unlock()

		if err := e.persistCleared(ctx, sess); err != nil {
			e.mu.Lock()
			if sess.content == nil {
				sess.content, sess.gate, sess.sweep = content, gate, sweep
			}
			e.mu.Unlock()
			return err
		}
		return nil
	})
	if err != nil {
		e.log.Error("Unable to clear content", zap.String("project", sess.id), zap.Error(err))
		e.notifier.Notify(Blocking, fmt.Sprintf("Course content could not be cleared, media files may remain orphaned: %v", err))
		return fmt.Errorf("%w: %w", ErrClearAborted, err)
	}
	e.log.Info("Content cleared", zap.String("project", sess.id))

	if err := sess.media.DeleteAllMedia(ctx, sess.id); err != nil {
		e.log.Warn("Unable to delete project media after clearing content", zap.String("project", sess.id), zap.Error(err))
		return nil
	}
	e.log.Debug("Project media deleted", zap.String("project", sess.id))
	return nil
}

// persistCleared writes absent content, narration and media side channels
// and every legacy content key, so no reconstruction tier could bring old
// content back. Step marker is reset to JSON import.
func (e *Engine) persistCleared(ctx context.Context, sess *session) error {
	st := sess.store
	if err := st.SaveContent(ctx, store.KeyContent, nil); err != nil {
		return fmt.Errorf("unable to clear content: %w", err)
	}
	if err := saveJSON(ctx, st, store.KeyCurrentStep, steps.Marker{Step: steps.StepJson}); err != nil {
		return err
	}
	for _, key := range []string{store.KeyAudioNarration, store.KeyMediaEnhancements} {
		if err := st.SaveContent(ctx, key, nil); err != nil {
			return fmt.Errorf("unable to clear %s: %w", key, err)
		}
	}

	keys, err := st.Keys(ctx)
	if err != nil {
		return fmt.Errorf("unable to list content keys: %w", err)
	}
	for _, key := range keys {
		if keptOnClear[key] || key == store.KeyContent || key == store.KeyAudioNarration || key == store.KeyMediaEnhancements {
			continue
		}
		blob, err := st.GetContent(ctx, key)
		if err != nil {
			return fmt.Errorf("unable to read %s: %w", key, err)
		}
		if blob == nil {
			continue
		}
		if err := st.SaveContent(ctx, key, nil); err != nil {
			return fmt.Errorf("unable to clear %s: %w", key, err)
		}
	}

	st.SetCurrentStep(steps.StepJson.String())
	if err := st.SaveProject(ctx); err != nil {
		return fmt.Errorf("unable to save project: %w", err)
	}
	return nil
}
