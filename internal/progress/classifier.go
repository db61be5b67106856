package progress

import (
	"strings"

	"summit/internal/domain"
)

// Classifier decides whether an action is habit-driven or execution-driven.
type Classifier interface {
	Classify(a domain.Action) string
}

// DefaultHabitKeywords are matched as substrings against task titles and
// descriptions.
var DefaultHabitKeywords = []string{
	"habit",
	"daily",
	"every day",
	"each day",
	"routine",
	"streak",
	"keep up",
	"continuously",
}

// KeywordClassifier flags an action as a habit when any of its tasks' title
// or description contains one of the keywords. It is a stand-in for a
// first-class schema field; swapping in a schema-backed Classifier must not
// touch the calculators.
type KeywordClassifier struct {
	keywords []string
}

func NewKeywordClassifier(keywords []string) KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultHabitKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k == "" {
			continue
		}
		lowered = append(lowered, strings.ToLower(k))
	}
	return KeywordClassifier{keywords: lowered}
}

func (c KeywordClassifier) Classify(a domain.Action) string {
	for _, t := range a.Tasks {
		text := strings.ToLower(t.Title + " " + t.Description)
		for _, k := range c.keywords {
			if strings.Contains(text, k) {
				return domain.ActionHabit
			}
		}
	}
	return domain.ActionExecution
}
