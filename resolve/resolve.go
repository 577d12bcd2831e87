// Package resolve reconstructs canonical course content from whatever shape
// project data was saved in.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scbe/course"
	"scbe/store"
)

// Reader is the part of project storage resolver needs.
type Reader interface {
	GetContent(ctx context.Context, key string) (json.RawMessage, error)
	GetCourseMetadata(ctx context.Context) (*course.CourseMetadata, error)
}

// Tier tells how content was obtained.
type Tier int

const (
	TierNone Tier = iota
	TierDirect
	TierLegacy
	TierSkeleton
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierLegacy:
		return "legacy"
	case TierSkeleton:
		return "skeleton"
	default:
		return "none"
	}
}

// Result of resolution. Content and Seed are nil when nothing usable was
// found.
type Result struct {
	Content *course.CourseContent
	Seed    *course.CourseSeedData
	Tier    Tier
	// Repairs lists malformed data which was fixed on the way.
	Repairs []string
}

// Resolver is stateless and could be shared.
type Resolver struct {
	log *zap.Logger
	// limit of concurrent reads for legacy tiers
	limit int
}

func New(log *zap.Logger) *Resolver {
	return &Resolver{log: log.Named("resolve"), limit: 8}
}

// run holds state of a single Resolve call.
type run struct {
	*Resolver
	src Reader

	mu      sync.Mutex
	repairs []string
}

// Resolve produces canonical content and seed data. Individual read failures
// are treated as absent keys, only storage unavailability is reported as
// error.
func (r *Resolver) Resolve(ctx context.Context, src Reader) (*Result, error) {
	rn := &run{Resolver: r, src: src}
	res := &Result{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		content, tier, err := rn.content(gctx)
		if err != nil {
			return err
		}
		res.Content, res.Tier = content, tier
		return nil
	})
	g.Go(func() error {
		seed, err := rn.seed(gctx)
		if err != nil {
			return err
		}
		res.Seed = seed
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("unable to resolve project content: %w", err)
	}

	res.Repairs = rn.repairs
	r.log.Debug("Content resolved",
		zap.Stringer("tier", res.Tier),
		zap.Bool("seed", res.Seed != nil),
		zap.Int("repairs", len(res.Repairs)))
	return res, nil
}

func (rn *run) content(ctx context.Context) (*course.CourseContent, Tier, error) {
	c, err := rn.direct(ctx)
	if err != nil {
		return nil, TierNone, err
	}
	tier := TierDirect
	if c == nil {
		if c, tier, err = rn.legacy(ctx); err != nil || c == nil {
			return nil, TierNone, err
		}
	}
	rn.repairQuestions(c)
	return c, tier, nil
}

// direct loads canonical document saved by current version.
func (rn *run) direct(ctx context.Context) (*course.CourseContent, error) {
	blob, err := rn.get(ctx, store.KeyContent)
	if err != nil || blob == nil {
		return nil, err
	}
	if !course.IsCourseContent(blob) {
		rn.log.Debug("Stored content is not in canonical shape", zap.String("key", store.KeyContent))
		return nil, nil
	}
	var c course.CourseContent
	if err := json.Unmarshal(blob, &c); err != nil {
		rn.log.Warn("Unable to decode stored content", zap.String("key", store.KeyContent), zap.Error(err))
		return nil, nil
	}
	if c.Topics == nil {
		c.Topics = []course.Page{}
		rn.repaired("content: missing topics list")
	}
	if c.Assessment.Questions == nil {
		c.Assessment.Questions = []course.Question{}
		rn.repaired("assessment: missing questions list")
	}
	return &c, nil
}

// get reads a key treating any failure except storage unavailability as
// absent value.
func (rn *run) get(ctx context.Context, key string) (json.RawMessage, error) {
	blob, err := rn.src.GetContent(ctx, key)
	if err == nil {
		return blob, nil
	}
	if terminal(ctx, err) {
		return nil, err
	}
	rn.log.Debug("Read failed, treating as absent", zap.String("key", key), zap.Error(err))
	return nil, nil
}

func (rn *run) metadata(ctx context.Context) (*course.CourseMetadata, error) {
	meta, err := rn.src.GetCourseMetadata(ctx)
	if err == nil {
		return meta, nil
	}
	if terminal(ctx, err) {
		return nil, err
	}
	rn.log.Debug("Metadata read failed, treating as absent", zap.Error(err))
	return nil, nil
}

func (rn *run) repaired(what string) {
	rn.log.Warn("Repaired malformed project data", zap.String("what", what))
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.repairs = append(rn.repairs, what)
}

func terminal(ctx context.Context, err error) bool {
	return errors.Is(err, store.ErrUnavailable) || ctx.Err() != nil
}
