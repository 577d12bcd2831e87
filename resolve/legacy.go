package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scbe/course"
	"scbe/store"
)

// legacyPage is a page saved per item by older versions, some of them used
// topicId instead of id.
type legacyPage struct {
	course.Page
	TopicID string `json:"topicId"`
}

// legacy reassembles content from per item keys listed by project metadata.
// When no topic content survived it falls back to skeleton built from
// titles.
func (rn *run) legacy(ctx context.Context) (*course.CourseContent, Tier, error) {
	meta, err := rn.metadata(ctx)
	if err != nil {
		return nil, TierNone, err
	}
	if meta == nil || len(meta.Topics) == 0 {
		return nil, TierNone, nil
	}

	var (
		topics     = make([]*course.Page, len(meta.Topics))
		welcome    *course.Page
		objectives *course.Page
		assessment *course.Assessment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rn.limit)
	for i, title := range meta.Topics {
		g.Go(func() error {
			p, err := rn.page(gctx, title, append([]string{store.TopicKey(i)}, titleKeys(title)...)...)
			topics[i] = p
			return err
		})
	}
	g.Go(func() (err error) {
		welcome, err = rn.page(gctx, "", store.NumberedKey(0), store.KeyWelcome)
		return err
	})
	g.Go(func() (err error) {
		objectives, err = rn.page(gctx, "", store.NumberedKey(1), store.KeyObjectives)
		return err
	})
	g.Go(func() (err error) {
		assessment, err = rn.assessment(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, TierNone, err
	}

	found := 0
	for _, p := range topics {
		if p != nil {
			found++
		}
	}
	tier := TierLegacy
	if found == 0 {
		if welcome == nil && objectives == nil {
			return nil, TierNone, nil
		}
		tier = TierSkeleton
	}

	c := &course.CourseContent{Topics: make([]course.Page, len(topics))}
	for i, p := range topics {
		if p == nil {
			c.Topics[i] = placeholderTopic(i, meta.Topics[i])
			if tier == TierLegacy {
				rn.log.Debug("Topic content is missing, using placeholder", zap.Int("topic", i), zap.String("title", meta.Topics[i]))
			}
			continue
		}
		if len(p.ID) == 0 {
			p.ID = course.TopicKey(i)
		}
		c.Topics[i] = *p
	}
	c.WelcomePage = pageOrDefault(welcome, defaultWelcome(meta.Name()))
	c.LearningObjectivesPage = pageOrDefault(objectives, defaultObjectives(meta.Topics))
	if assessment != nil {
		c.Assessment = *assessment
	} else {
		c.Assessment = course.EmptyAssessment()
	}

	rn.log.Info("Content reconstructed from legacy data",
		zap.Stringer("tier", tier), zap.Int("topics", len(topics)), zap.Int("found", found))
	return c, tier, nil
}

var notKeyChars = regexp.MustCompile(`[^a-z0-9]+`)

// titleKeys returns keys older versions could have stored topic under. The
// first one is the title lower-cased with every run of other characters
// replaced by a single hyphen. Slug with transliteration goes last.
func titleKeys(title string) []string {
	key := strings.Trim(notKeyChars.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if s := slug.Make(title); s != key {
		return []string{key, s}
	}
	return []string{key}
}

// page reads the first available of keys and decodes it as a page.
func (rn *run) page(ctx context.Context, title string, keys ...string) (*course.Page, error) {
	for _, key := range keys {
		if len(key) == 0 {
			continue
		}
		blob, err := rn.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			continue
		}
		p, err := decodePage(blob)
		if err != nil {
			rn.log.Warn("Unable to decode legacy page, ignoring", zap.String("key", key), zap.Error(err))
			continue
		}
		if len(p.Title) == 0 && len(title) > 0 {
			p.Title = title
		}
		return p, nil
	}
	return nil, nil
}

// decodePage accepts page object or bare HTML string.
func decodePage(blob json.RawMessage) (*course.Page, error) {
	blob = bytes.TrimSpace(blob)
	if len(blob) > 0 && blob[0] == '"' {
		var content string
		if err := json.Unmarshal(blob, &content); err != nil {
			return nil, err
		}
		return &course.Page{Content: content, Media: []course.MediaReference{}}, nil
	}
	var lp legacyPage
	if err := json.Unmarshal(blob, &lp); err != nil {
		return nil, err
	}
	p := lp.Page
	if len(p.ID) == 0 {
		p.ID = lp.TopicID
	}
	if p.Media == nil {
		p.Media = []course.MediaReference{}
	}
	return &p, nil
}

// assessment looks for assessment under its own key, then inside legacy
// activities or quiz documents.
func (rn *run) assessment(ctx context.Context) (*course.Assessment, error) {
	for _, key := range []string{store.KeyAssessment, store.KeyActivities, store.KeyQuiz} {
		blob, err := rn.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			continue
		}
		a, err := decodeAssessment(blob)
		if err != nil || a == nil {
			rn.log.Warn("Unable to find assessment in legacy document", zap.String("key", key), zap.Error(err))
			continue
		}
		if a.PassMark <= 0 {
			a.PassMark = course.DefaultPassMark
			rn.repaired(key + ": missing pass mark")
		}
		return a, nil
	}
	return nil, nil
}

// decodeAssessment understands {"questions": [...]} documents and documents
// with nested "assessment" member.
func decodeAssessment(blob json.RawMessage) (*course.Assessment, error) {
	var doc struct {
		Assessment *course.Assessment `json:"assessment"`
		Questions  []course.Question  `json:"questions"`
		PassMark   int                `json:"passMark"`
		Narration  string             `json:"narration"`
	}
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, err
	}
	if doc.Assessment != nil {
		if doc.Assessment.Questions == nil {
			doc.Assessment.Questions = []course.Question{}
		}
		return doc.Assessment, nil
	}
	if doc.Questions == nil {
		return nil, nil
	}
	return &course.Assessment{Questions: doc.Questions, PassMark: doc.PassMark, Narration: doc.Narration}, nil
}

func placeholderTopic(i int, title string) course.Page {
	return course.Page{
		ID:      course.TopicKey(i),
		Title:   title,
		Content: fmt.Sprintf("<h2>%s</h2><p>Content for this topic is not available.</p>", html.EscapeString(title)),
		Media:   []course.MediaReference{},
	}
}

func defaultWelcome(courseTitle string) course.Page {
	title := "Welcome"
	if t := strings.TrimSpace(courseTitle); len(t) > 0 {
		title = "Welcome to " + t
	}
	return course.Page{
		ID:      course.WelcomeKey,
		Title:   title,
		Content: fmt.Sprintf("<h2>%s</h2>", html.EscapeString(title)),
		Media:   []course.MediaReference{},
	}
}

func defaultObjectives(topics []string) course.Page {
	var b strings.Builder
	b.WriteString("<ul>")
	for _, t := range topics {
		b.WriteString("<li>")
		b.WriteString(html.EscapeString(t))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return course.Page{
		ID:      course.ObjectivesKey,
		Title:   "Learning Objectives",
		Content: b.String(),
		Media:   []course.MediaReference{},
	}
}

func pageOrDefault(p *course.Page, def course.Page) course.Page {
	if p == nil {
		return def
	}
	if len(p.ID) == 0 {
		p.ID = def.ID
	}
	if len(p.Title) == 0 {
		p.Title = def.Title
	}
	return *p
}
