package extract

import (
	"regexp"
	"time"

	"driver_intake/internal/registration"
)

// CategoryRule configures one registration category for the classifier.
// Rules are checked in ascending Priority; within one priority level the
// longest matching keyword wins.
type CategoryRule struct {
	Category registration.Category `yaml:"category" json:"category"`
	Priority int                   `yaml:"priority" json:"priority"`
	Keywords []string              `yaml:"keywords" json:"keywords"`
}

// keywordEntry stores both the keyword and its precompiled regex
type keywordEntry struct {
	raw   string
	regex *regexp.Regexp
}

// categoryEntry links a category rule to its prepared keywords
type categoryEntry struct {
	rule     CategoryRule
	keywords []keywordEntry
}

// Classifier detects the registration category mentioned in a message.
type Classifier struct {
	entries  []categoryEntry
	loadedAt time.Time
}

// Rule is one named field extraction: a pure function from message text to
// the field value, or "" when the pattern is absent.
type Rule struct {
	Field   registration.Field
	Extract func(text string) string
}

// matchResult stores information about a keyword match
type matchResult struct {
	keyword  string
	length   int
	category registration.Category
}
