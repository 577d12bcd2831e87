package course

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ErrInvalidContent is returned when imported document could not be used as
// course content.
var ErrInvalidContent = errors.New("invalid course content")

// Required top level members of canonical document.
var requiredMembers = []string{"welcomePage", "learningObjectivesPage", "assessment"}

// IsCourseContent reports whether raw JSON document is structurally typed as
// canonical course content.
func IsCourseContent(data []byte) bool {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return false
	}
	for _, name := range requiredMembers {
		v, ok := members[name]
		if !ok || isNull(v) {
			return false
		}
	}
	return true
}

// Parse validates imported JSON document and returns course content. Missing
// assessment is replaced by empty one and missing topic ids are generated.
func Parse(data []byte) (*CourseContent, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	for _, name := range []string{"welcomePage", "learningObjectivesPage", "topics"} {
		if v, ok := members[name]; !ok || isNull(v) {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidContent, name)
		}
	}

	var c CourseContent
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	if len(c.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrInvalidContent)
	}
	if v, ok := members["assessment"]; !ok || isNull(v) {
		c.Assessment = EmptyAssessment()
	}
	if c.Assessment.Questions == nil {
		c.Assessment.Questions = []Question{}
	}
	if c.Assessment.PassMark == 0 {
		c.Assessment.PassMark = DefaultPassMark
	}
	if len(c.WelcomePage.ID) == 0 {
		c.WelcomePage.ID = WelcomeKey
	}
	if len(c.LearningObjectivesPage.ID) == 0 {
		c.LearningObjectivesPage.ID = ObjectivesKey
	}
	for i := range c.Topics {
		t := &c.Topics[i]
		if len(strings.TrimSpace(t.Title)) == 0 {
			return nil, fmt.Errorf("%w: topic %d has no title", ErrInvalidContent, i)
		}
		if len(t.ID) == 0 {
			t.ID = TopicKey(i)
		}
	}
	return &c, nil
}

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
	return p
}

// Sanitize returns copy of content with all page HTML passed through UGC
// policy.
func Sanitize(c *CourseContent) *CourseContent {
	out := c.Clone()
	if out == nil {
		return nil
	}
	for _, b := range out.Buckets() {
		b.Page.Content = policy.Sanitize(b.Page.Content)
	}
	return out
}

// PlainText returns text content of HTML fragment with whitespace collapsed.
func PlainText(fragment string) string {
	var buf bytes.Buffer
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(buf.String()), " ")
		case html.TextToken:
			buf.Write(z.Text())
			buf.WriteByte(' ')
		}
	}
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
