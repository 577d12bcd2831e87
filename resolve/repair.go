package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"scbe/course"
	"scbe/store"
)

// Defaults for seed data reconstructed from metadata.
const (
	DefaultDifficulty = 3
	DefaultTemplate   = "None"
	genericBlank      = "Fill in the blank: _____"
)

// repairQuestions makes sure every fill in the blank question has blank text.
func (rn *run) repairQuestions(c *course.CourseContent) {
	for i := range c.Topics {
		kc := c.Topics[i].KnowledgeCheck
		if kc == nil {
			continue
		}
		rn.repairBlanks(course.TopicKey(i), kc.Questions)
	}
	rn.repairBlanks("assessment", c.Assessment.Questions)
}

func (rn *run) repairBlanks(where string, questions []course.Question) {
	for i := range questions {
		q := &questions[i]
		if q.Type != course.QuestionFillInBlank || len(strings.TrimSpace(q.Blank)) > 0 {
			continue
		}
		q.Blank = SynthesizeBlank(q.Question)
		rn.repaired(fmt.Sprintf("%s: question %d has no blank", where, i))
	}
}

// SynthesizeBlank returns blank text for a question which has none. Result is
// never empty.
func SynthesizeBlank(question string) string {
	if text := course.PlainText(question); len(text) > 0 {
		return text
	}
	return genericBlank
}

// seed loads seed data or reconstructs it from project metadata.
func (rn *run) seed(ctx context.Context) (*course.CourseSeedData, error) {
	blob, err := rn.get(ctx, store.KeySeed)
	if err != nil {
		return nil, err
	}
	if blob != nil {
		var seed course.CourseSeedData
		if err := json.Unmarshal(blob, &seed); err != nil {
			rn.log.Warn("Unable to decode seed data, using metadata", zap.Error(err))
		} else {
			rn.normalizeSeed(&seed)
			return &seed, nil
		}
	}

	meta, err := rn.metadata(ctx)
	if err != nil || meta == nil {
		return nil, err
	}
	seed := &course.CourseSeedData{
		CourseTitle:    meta.Name(),
		Difficulty:     meta.Difficulty,
		CustomTopics:   meta.Topics,
		Template:       meta.Template,
		TemplateTopics: meta.TemplateTopics,
	}
	rn.normalizeSeed(seed)
	return seed, nil
}

func (rn *run) normalizeSeed(seed *course.CourseSeedData) {
	if seed.Difficulty == 0 {
		seed.Difficulty = DefaultDifficulty
	} else if seed.Difficulty < 1 || seed.Difficulty > 5 {
		rn.repaired(fmt.Sprintf("seed: difficulty %d out of range", seed.Difficulty))
		seed.Difficulty = DefaultDifficulty
	}
	if seed.CustomTopics == nil {
		seed.CustomTopics = []string{}
	}
	if seed.TemplateTopics == nil {
		seed.TemplateTopics = []string{}
	}
	if len(seed.Template) == 0 {
		seed.Template = DefaultTemplate
	}
}
