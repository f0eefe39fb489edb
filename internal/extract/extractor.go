// Package extract pulls driver registration fields out of free-text chat
// messages and classifies the registration category they mention.
package extract

import "driver_intake/internal/registration"

// CategoryClassifier decides which registration category a message mentions.
type CategoryClassifier interface {
	Classify(text string) registration.Category
}

// Extractor applies the extraction table and the classifier to a message.
type Extractor struct {
	classifier CategoryClassifier
	rules      []Rule
}

// New creates an extractor. A nil classifier uses DefaultRules.
func New(classifier CategoryClassifier) *Extractor {
	if classifier == nil {
		classifier = NewClassifier(DefaultRules())
	}
	return &Extractor{classifier: classifier, rules: Rules}
}

// Extract returns every field found in text. Fields whose pattern does not
// match are left empty; extraction never fails.
func (e *Extractor) Extract(text string) registration.Record {
	var rec registration.Record
	for _, rule := range e.rules {
		rec.Set(rule.Field, rule.Extract(text))
	}
	rec.Category = e.classifier.Classify(text)
	return rec
}
