// Package course defines course project document model shared by storage,
// reconstruction and reconciliation code.
package course

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Media reference types known to the engine. Other values are allowed and
// preserved as is.
const (
	MediaAudio   = "audio"
	MediaImage   = "image"
	MediaVideo   = "video"
	MediaCaption = "caption"
)

// Question types, only fill in the blank questions require special handling.
const (
	QuestionMultipleChoice = "multiple-choice"
	QuestionTrueFalse      = "true-false"
	QuestionFillInBlank    = "fill-in-the-blank"
)

// DefaultPassMark is used for assessments which do not specify one.
const DefaultPassMark = 80

// Page bucket keys used by side channels: welcome, objectives, topic-{i}.
const (
	WelcomeKey    = "welcome"
	ObjectivesKey = "objectives"
)

// TopicKey returns positional side channel key of the topic.
func TopicKey(i int) string {
	return fmt.Sprintf("topic-%d", i)
}

// ProjectInfo identifies project and its location.
type ProjectInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Path         string    `json:"path,omitempty"`
}

// CourseSeedData is produced by the first wizard step.
type CourseSeedData struct {
	CourseTitle    string   `json:"courseTitle"`
	Difficulty     int      `json:"difficulty"`
	CustomTopics   []string `json:"customTopics"`
	Template       string   `json:"template"`
	TemplateTopics []string `json:"templateTopics"`
}

// Meaningful reports whether seed carries user data worth saving.
func (s *CourseSeedData) Meaningful() bool {
	return s != nil && len(strings.TrimSpace(s.CourseTitle)) > 0
}

// Clone returns deep copy of the seed.
func (s *CourseSeedData) Clone() *CourseSeedData {
	if s == nil {
		return nil
	}
	c := *s
	c.CustomTopics = cloneStrings(s.CustomTopics)
	c.TemplateTopics = cloneStrings(s.TemplateTopics)
	return &c
}

// CourseMetadata is kept inside project file. Older readers only understand
// this shape so seed data is always folded into it on commit.
type CourseMetadata struct {
	Title          string   `json:"title,omitempty"`
	CourseTitle    string   `json:"courseTitle,omitempty"`
	Difficulty     int      `json:"difficulty,omitempty"`
	Template       string   `json:"template,omitempty"`
	Topics         []string `json:"topics,omitempty"`
	TemplateTopics []string `json:"templateTopics,omitempty"`
}

// Name returns course title regardless of which field older versions used.
func (m *CourseMetadata) Name() string {
	if m == nil {
		return ""
	}
	if len(m.Title) > 0 {
		return m.Title
	}
	return m.CourseTitle
}

// FoldSeed returns metadata updated from seed data.
func FoldSeed(meta *CourseMetadata, seed *CourseSeedData) *CourseMetadata {
	out := &CourseMetadata{}
	if meta != nil {
		*out = *meta
		out.Topics = cloneStrings(meta.Topics)
		out.TemplateTopics = cloneStrings(meta.TemplateTopics)
	}
	if seed == nil {
		return out
	}
	out.Title = seed.CourseTitle
	out.CourseTitle = seed.CourseTitle
	out.Difficulty = seed.Difficulty
	out.Template = seed.Template
	out.Topics = cloneStrings(seed.CustomTopics)
	out.TemplateTopics = cloneStrings(seed.TemplateTopics)
	return out
}

// MediaReference points to an asset kept in media store.
type MediaReference struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	PageID string `json:"pageId,omitempty"`
}

type Question struct {
	ID            string          `json:"id,omitempty"`
	Type          string          `json:"type"`
	Question      string          `json:"question"`
	Options       []string        `json:"options,omitempty"`
	CorrectAnswer json.RawMessage `json:"correctAnswer,omitempty"`
	Blank         string          `json:"blank,omitempty"`
	Explanation   string          `json:"explanation,omitempty"`
}

type KnowledgeCheck struct {
	Questions []Question `json:"questions"`
}

type Assessment struct {
	Questions []Question `json:"questions"`
	PassMark  int        `json:"passMark"`
	Narration string     `json:"narration,omitempty"`
}

// EmptyAssessment is used when nothing better could be found.
func EmptyAssessment() Assessment {
	return Assessment{Questions: []Question{}, PassMark: DefaultPassMark}
}

// Page is welcome, objectives or topic page of the course.
type Page struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Content          string           `json:"content"`
	Narration        string           `json:"narration"`
	ImageKeywords    []string         `json:"imageKeywords,omitempty"`
	ImagePrompts     []string         `json:"imagePrompts,omitempty"`
	VideoSearchTerms []string         `json:"videoSearchTerms,omitempty"`
	Duration         int              `json:"duration"`
	KnowledgeCheck   *KnowledgeCheck  `json:"knowledgeCheck,omitempty"`
	Media            []MediaReference `json:"media"`
}

// HasMedia reports whether reference with id is attached to the page.
func (p *Page) HasMedia(id string) bool {
	for _, m := range p.Media {
		if m.ID == id {
			return true
		}
	}
	return false
}

// CourseContent is the canonical course document. Values are never patched
// in place once published, every change produces new complete value.
type CourseContent struct {
	WelcomePage            Page       `json:"welcomePage"`
	LearningObjectivesPage Page       `json:"learningObjectivesPage"`
	Topics                 []Page     `json:"topics"`
	Assessment             Assessment `json:"assessment"`
}

// Bucket is a page together with its side channel key.
type Bucket struct {
	Key  string
	Page *Page
}

// Buckets lists all pages of the content in document order. Returned pages
// point into content.
func (c *CourseContent) Buckets() []Bucket {
	buckets := make([]Bucket, 0, len(c.Topics)+2)
	buckets = append(buckets,
		Bucket{Key: WelcomeKey, Page: &c.WelcomePage},
		Bucket{Key: ObjectivesKey, Page: &c.LearningObjectivesPage},
	)
	for i := range c.Topics {
		buckets = append(buckets, Bucket{Key: TopicKey(i), Page: &c.Topics[i]})
	}
	return buckets
}

// HasTopics reports whether content could support steps past JSON import.
func (c *CourseContent) HasTopics() bool {
	return c != nil && len(c.Topics) > 0
}

// HasMediaReferences reports whether any page carries at least one media
// reference.
func (c *CourseContent) HasMediaReferences() bool {
	if c == nil {
		return false
	}
	for _, b := range c.Buckets() {
		if len(b.Page.Media) > 0 {
			return true
		}
	}
	return false
}

// MediaIDs returns ids of all referenced media in document order.
func (c *CourseContent) MediaIDs() []string {
	if c == nil {
		return nil
	}
	var ids []string
	for _, b := range c.Buckets() {
		for _, m := range b.Page.Media {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Clone returns deep copy of the content.
func (c *CourseContent) Clone() *CourseContent {
	if c == nil {
		return nil
	}
	out := &CourseContent{
		WelcomePage:            c.WelcomePage.clone(),
		LearningObjectivesPage: c.LearningObjectivesPage.clone(),
		Assessment:             c.Assessment.clone(),
	}
	if c.Topics == nil {
		return out
	}
	out.Topics = make([]Page, len(c.Topics))
	for i := range c.Topics {
		out.Topics[i] = c.Topics[i].clone()
	}
	return out
}

func (p Page) clone() Page {
	p.ImageKeywords = cloneStrings(p.ImageKeywords)
	p.ImagePrompts = cloneStrings(p.ImagePrompts)
	p.VideoSearchTerms = cloneStrings(p.VideoSearchTerms)
	if p.Media != nil {
		p.Media = append(make([]MediaReference, 0, len(p.Media)), p.Media...)
	}
	if p.KnowledgeCheck != nil {
		kc := KnowledgeCheck{Questions: cloneQuestions(p.KnowledgeCheck.Questions)}
		p.KnowledgeCheck = &kc
	}
	return p
}

func (a Assessment) clone() Assessment {
	a.Questions = cloneQuestions(a.Questions)
	return a
}

func cloneQuestions(in []Question) []Question {
	if in == nil {
		return nil
	}
	out := make([]Question, len(in))
	for i, q := range in {
		q.Options = cloneStrings(q.Options)
		if q.CorrectAnswer != nil {
			q.CorrectAnswer = append(json.RawMessage(nil), q.CorrectAnswer...)
		}
		out[i] = q
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}
