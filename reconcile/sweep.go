package reconcile

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"scbe/course"
)

// SweepResult describes outcome of orphan sweep.
type SweepResult struct {
	// Content without orphaned references. It is the very value passed to
	// Sweep when nothing was removed.
	Content *course.CourseContent
	// Removed lists ids of stripped references in document order, each id
	// once.
	Removed []string
	// Unknown lists ids for which existence check failed. Such references
	// are kept.
	Unknown []string
}

// Sweep checks every referenced media id with exists and strips references
// to media which is gone. At most concurrency checks run at the same time.
// Only context cancellation is reported as error.
func Sweep(ctx context.Context, content *course.CourseContent, exists ExistsFunc, concurrency int) (*SweepResult, error) {
	res := &SweepResult{Content: content}

	ids := distinct(content.MediaIDs())
	if len(ids) == 0 {
		return res, nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu      sync.Mutex
		missing = make(map[string]bool, len(ids))
		failed  = make(map[string]bool)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := exists(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed[id] = true
			case !ok:
				missing[id] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if missing[id] {
			res.Removed = append(res.Removed, id)
		}
		if failed[id] {
			res.Unknown = append(res.Unknown, id)
		}
	}
	if len(res.Removed) == 0 {
		return res, nil
	}

	out := content.Clone()
	for _, b := range out.Buckets() {
		kept := make([]course.MediaReference, 0, len(b.Page.Media))
		for _, ref := range b.Page.Media {
			if !missing[ref.ID] {
				kept = append(kept, ref)
			}
		}
		b.Page.Media = kept
	}
	res.Content = out
	return res, nil
}

func distinct(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
