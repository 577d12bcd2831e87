package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"scbe/autosave"
	"scbe/reconcile"
	"scbe/resolve"
	"scbe/steps"
	"scbe/store"
)

// loadCall is a single load of a project shared by all requests for it.
type loadCall struct {
	id   string
	done chan struct{}
	snap *Snapshot
	err  error
}

func (c *loadCall) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// loads tracks load of the requested project. Requests for the project being
// loaded or already loaded are not executed again, request for another
// project replaces tracking.
type loads struct {
	mu        sync.Mutex
	call      *loadCall
	redundant int
	attempts  int
}

func (l *loads) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.call, l.redundant = nil, 0
}

// LoadAttempts returns number of loads actually executed.
func (e *Engine) LoadAttempts() int {
	e.loads.mu.Lock()
	defer e.loads.mu.Unlock()
	return e.loads.attempts
}

// RequestOpen opens project and returns its reconstructed state. Repeated
// requests for the same project share a single load. A request for a
// different project closes the current one and supersedes any load in
// progress.
func (e *Engine) RequestOpen(ctx context.Context, projectID string) (*Snapshot, error) {
	e.loads.mu.Lock()
	if call := e.loads.call; call != nil && call.id == projectID && (!call.finished() || call.err == nil) {
		e.loads.redundant++
		redundant := e.loads.redundant
		e.loads.mu.Unlock()

		if redundant > e.cfg.MaxRedundantLoads {
			e.log.Error("Project load requested too many times",
				zap.String("project", projectID), zap.Int("redundant", redundant), zap.Int("max", e.cfg.MaxRedundantLoads))
		} else {
			e.log.Debug("Project load already requested", zap.String("project", projectID), zap.Int("redundant", redundant))
		}

		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if call.err != nil {
			return nil, call.err
		}
		snap, err := e.Snapshot()
		if err != nil || snap.ProjectID != call.snap.ProjectID {
			return nil, fmt.Errorf("%w: %s", ErrSuperseded, projectID)
		}
		return snap, nil
	}

	call := &loadCall{id: projectID, done: make(chan struct{})}
	if prev := e.loads.call; prev != nil && prev.id != projectID {
		e.log.Debug("Project load superseded", zap.String("project", prev.id), zap.String("by", projectID))
	}
	e.loads.call, e.loads.redundant = call, 0
	e.loads.attempts++
	e.loads.mu.Unlock()

	call.snap, call.err = e.load(ctx, call)
	close(call.done)
	return call.snap, call.err
}

func (e *Engine) load(ctx context.Context, call *loadCall) (*Snapshot, error) {
	if err := e.release(ctx, call.id); err != nil {
		e.log.Warn("Problem closing previous project", zap.Error(err))
	}

	st, md, err := e.opener.Open(ctx, call.id)
	if err != nil {
		return nil, fmt.Errorf("unable to open project %s: %w", call.id, err)
	}
	sess, dirty, err := e.restore(ctx, st, md)
	if err != nil {
		return nil, multierr.Append(err, st.Close())
	}

	e.loads.mu.Lock()
	defer e.loads.mu.Unlock()
	if e.loads.call != call {
		if err := st.Close(); err != nil {
			e.log.Warn("Unable to close superseded project", zap.String("project", sess.id), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: %s", ErrSuperseded, call.id)
	}

	e.mu.Lock()
	e.sess = sess
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.debouncer.Stop()
	e.tracker.ResetAll()
	for _, s := range dirty {
		e.tracker.MarkDirty(s)
	}

	e.log.Info("Project opened",
		zap.String("project", sess.id),
		zap.Stringer("tier", sess.tier),
		zap.Stringer("step", snap.Step),
		zap.Int("repairs", len(sess.repairs)))
	return snap, nil
}

// release closes opened project unless it is the one requested, unsaved
// changes are committed first.
func (e *Engine) release(ctx context.Context, projectID string) error {
	sess := e.current()
	if sess == nil || sess.id == projectID {
		return nil
	}
	var err error
	if e.tracker.HasUnsavedChanges() {
		err = e.scheduler.Save(ctx)
	}
	return multierr.Append(err, e.scheduler.Exclusive(func() error {
		e.mu.Lock()
		if e.sess == sess {
			e.sess = nil
		}
		e.mu.Unlock()
		return sess.store.Close()
	}))
}

// restore reconstructs project state from storage. Returns sections which
// differ from what is stored.
func (e *Engine) restore(ctx context.Context, st Store, md Media) (*session, []autosave.Section, error) {
	res, err := e.resolver.Resolve(ctx, st)
	if err != nil {
		return nil, nil, err
	}
	sess := &session{
		id:      st.ID(),
		store:   st,
		media:   md,
		content: res.Content,
		seed:    res.Seed,
		tier:    res.Tier,
		repairs: res.Repairs,
	}

	var dirty []autosave.Section
	if (res.Tier != resolve.TierDirect && res.Content != nil) || len(res.Repairs) > 0 {
		dirty = append(dirty, autosave.SectionContent)
	}
	if res.Tier == resolve.TierDirect {
		added, err := e.mergeSideChannels(ctx, sess)
		if err != nil {
			return nil, nil, err
		}
		if added > 0 {
			dirty = append(dirty, autosave.SectionContent)
		}
	}

	persisted, err := e.persistedStep(ctx, st)
	if err != nil {
		return nil, nil, err
	}
	d := steps.Resume(persisted, sess.content, sess.seed)
	sess.gate = steps.NewGate(d.Step)

	switch {
	case d.Downgraded:
		e.log.Info("Persisted step could not be honored", zap.Stringer("from", d.From), zap.Stringer("to", d.Step))
		e.notifier.Notify(Info, fmt.Sprintf("Course has no topics, resuming at %q instead of %q", d.Step, d.From))
		fallthrough
	case d.Inferred:
		if err := persistStep(ctx, st, d.Step); err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return nil, nil, err
			}
			e.log.Warn("Unable to persist resume step", zap.Stringer("step", d.Step), zap.Error(err))
			dirty = append(dirty, autosave.SectionStep)
		}
	}
	return sess, dirty, nil
}

// mergeSideChannels folds narration and media side channels into directly
// loaded content.
func (e *Engine) mergeSideChannels(ctx context.Context, sess *session) (int, error) {
	audioBlob, err := e.read(ctx, sess.store, store.KeyAudioNarration)
	if err != nil {
		return 0, err
	}
	mediaBlob, err := e.read(ctx, sess.store, store.KeyMediaEnhancements)
	if err != nil {
		return 0, err
	}

	audio, skipped, err := reconcile.DecodeAudio(audioBlob)
	if err != nil {
		e.log.Warn("Unable to decode narration side channel", zap.Error(err))
	}
	if len(skipped) > 0 {
		e.log.Warn("Ignored malformed narration entries", zap.Strings("pages", skipped))
	}
	mediaEntries, skipped, err := reconcile.DecodeMedia(mediaBlob)
	if err != nil {
		e.log.Warn("Unable to decode media side channel", zap.Error(err))
	}
	if len(skipped) > 0 {
		e.log.Warn("Ignored malformed media entries", zap.Strings("pages", skipped))
	}

	content, added := reconcile.Reconcile(sess.content, audio, mediaEntries)
	sess.content = content
	if added > 0 {
		e.log.Debug("Side channel media merged", zap.Int("added", added))
	}
	return added, nil
}

// persistedStep reads step marker, project file mirror is used when marker
// is absent.
func (e *Engine) persistedStep(ctx context.Context, st Store) (*steps.Step, error) {
	blob, err := e.read(ctx, st, store.KeyCurrentStep)
	if err != nil {
		return nil, err
	}
	if blob != nil {
		var m steps.Marker
		if err := json.Unmarshal(blob, &m); err == nil {
			return &m.Step, nil
		}
		e.log.Warn("Ignoring malformed step marker", zap.ByteString("marker", blob))
	}
	if name := st.CurrentStep(); len(name) > 0 {
		if s, err := steps.ParseStep(name); err == nil {
			return &s, nil
		}
		e.log.Warn("Ignoring unknown step in project file", zap.String("step", name))
	}
	return nil, nil
}

// read absorbs every read failure except storage unavailability.
func (e *Engine) read(ctx context.Context, st Store, key string) (json.RawMessage, error) {
	blob, err := st.GetContent(ctx, key)
	if err == nil {
		return blob, nil
	}
	if errors.Is(err, store.ErrUnavailable) || ctx.Err() != nil {
		return nil, err
	}
	e.log.Debug("Read failed, treating as absent", zap.String("key", key), zap.Error(err))
	return nil, nil
}

func persistStep(ctx context.Context, st Store, s steps.Step) error {
	if err := saveJSON(ctx, st, store.KeyCurrentStep, steps.Marker{Step: s}); err != nil {
		return err
	}
	st.SetCurrentStep(s.String())
	return st.SaveProject(ctx)
}
