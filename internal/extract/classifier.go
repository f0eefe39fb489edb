package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"driver_intake/internal/registration"
)

var spaceRE = regexp.MustCompile(`\s+`)

// DefaultRules returns the reference classification table. TAC is checked
// before Aggregate, so a message naming both is classified TAC.
func DefaultRules() []CategoryRule {
	return []CategoryRule{
		{
			Category: registration.CategoryTAC,
			Priority: 1,
			Keywords: []string{"tac", "company vehicle", "veículo da empresa"},
		},
		{
			Category: registration.CategoryAggregate,
			Priority: 2,
			Keywords: []string{"aggregate", "own vehicle", "agregado", "veículo próprio"},
		},
	}
}

// NewClassifier prepares the keyword regexes for every rule and sorts the
// rules by priority. Rules without a category or keywords are skipped.
func NewClassifier(rules []CategoryRule) *Classifier {
	c := &Classifier{loadedAt: time.Now()}

	for _, rule := range rules {
		if rule.Category == registration.CategoryUnknown {
			continue
		}
		entries := prepareKeywordEntries(rule.Keywords)
		if len(entries) == 0 {
			continue
		}
		c.entries = append(c.entries, categoryEntry{rule: rule, keywords: entries})
	}

	// Stable so equal priorities keep their configured order
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].rule.Priority < c.entries[j].rule.Priority
	})

	return c
}

// LoadedAt reports when the classifier was built.
func (c *Classifier) LoadedAt() time.Time {
	return c.loadedAt
}

// Rules returns the active rules in evaluation order.
func (c *Classifier) Rules() []CategoryRule {
	rules := make([]CategoryRule, 0, len(c.entries))
	for _, entry := range c.entries {
		rules = append(rules, entry.rule)
	}
	return rules
}

// Classify walks the priority levels in order and returns the category of the
// first level with a keyword hit. It returns CategoryUnknown when nothing matches.
func (c *Classifier) Classify(text string) registration.Category {
	normalized := normalizeText(text)
	if normalized == "" {
		return registration.CategoryUnknown
	}

	for start := 0; start < len(c.entries); {
		// Group categories sharing a priority level
		end := start + 1
		for end < len(c.entries) && c.entries[end].rule.Priority == c.entries[start].rule.Priority {
			end++
		}

		if result := findBestMatch(normalized, c.entries[start:end]); result != nil {
			return result.category
		}
		start = end
	}

	return registration.CategoryUnknown
}

// prepareKeywordEntries normalizes keywords and creates word-boundary regexes
func prepareKeywordEntries(keywords []string) []keywordEntry {
	entries := make([]keywordEntry, 0, len(keywords))

	for _, kw := range keywords {
		normalized := normalizeText(kw)
		if normalized == "" {
			continue
		}
		pattern := `\b` + regexp.QuoteMeta(normalized) + `\b`
		entries = append(entries, keywordEntry{
			raw:   normalized,
			regex: regexp.MustCompile(pattern),
		})
	}

	return entries
}

// normalizeText folds text into the form keywords are compared in:
//   - NFKD decomposition with combining marks removed ("veículo" -> "veiculo")
//   - Unicode case folding
//   - whitespace collapsed to single spaces
func normalizeText(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}

	folded := cases.Fold().String(stripped)
	return strings.TrimSpace(spaceRE.ReplaceAllString(folded, " "))
}

// findBestMatch returns the longest keyword hit among the categories of one
// priority level, or nil.
func findBestMatch(normalized string, categories []categoryEntry) *matchResult {
	var best *matchResult

	for _, cat := range categories {
		for _, entry := range cat.keywords {
			if !entry.regex.MatchString(normalized) {
				continue
			}
			if best == nil || len(entry.raw) > best.length {
				best = &matchResult{
					keyword:  entry.raw,
					length:   len(entry.raw),
					category: cat.rule.Category,
				}
			}
		}
	}

	return best
}
