// Package triage assigns an initial priority and descriptive tags to a
// customer message by literal, case-insensitive keyword containment.
//
// Priority tiers are evaluated in precedence order and the first tier with a
// matching keyword wins. Tag rules are evaluated independently, so a message
// may carry zero or more tags, always in rule declaration order. Matching is
// plain substring search: "urgently" matches "urgent".
package triage

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-query-desk/internal/domain"
)

// Tag labels attached by the default rule set.
const (
	TagBilling        = "Billing"
	TagRefund         = "Refund"
	TagBug            = "Bug"
	TagFeatureRequest = "Feature Request"
)

// PriorityRule maps a keyword set to a priority tier.
type PriorityRule struct {
	Priority domain.Priority
	Keywords []string
}

// TagRule maps a keyword set to a tag label.
type TagRule struct {
	Tag      string
	Keywords []string
}

// Result is the outcome of classifying one message.
type Result struct {
	Priority domain.Priority
	Tags     []string
}

// Classifier holds an ordered rule set. The zero value classifies every
// message as Low with no tags. A Classifier is immutable after construction
// and safe for concurrent use.
type Classifier struct {
	tiers    []PriorityRule
	tags     []TagRule
	fallback domain.Priority
}

// New builds a Classifier from priority tiers (highest precedence first) and
// tag rules. Keywords are lower-cased once here.
func New(tiers []PriorityRule, tags []TagRule) *Classifier {
	c := &Classifier{fallback: domain.PriorityLow}
	for _, r := range tiers {
		c.tiers = append(c.tiers, PriorityRule{Priority: r.Priority, Keywords: lowerAll(r.Keywords)})
	}
	for _, r := range tags {
		c.tags = append(c.tags, TagRule{Tag: r.Tag, Keywords: lowerAll(r.Keywords)})
	}
	return c
}

// DefaultPriorityRules returns the built-in priority tiers.
func DefaultPriorityRules() []PriorityRule {
	return []PriorityRule{
		{Priority: domain.PriorityUrgent, Keywords: []string{"urgent", "asap", "immediately"}},
		{Priority: domain.PriorityHigh, Keywords: []string{"angry", "terrible", "unacceptable"}},
		{Priority: domain.PriorityMedium, Keywords: []string{"slow", "confused"}},
	}
}

// DefaultTagRules returns the built-in tag rules.
func DefaultTagRules() []TagRule {
	return []TagRule{
		{Tag: TagBilling, Keywords: []string{"billing", "invoice", "charge"}},
		{Tag: TagRefund, Keywords: []string{"refund", "money back"}},
		{Tag: TagBug, Keywords: []string{"bug", "error", "not working"}},
		{Tag: TagFeatureRequest, Keywords: []string{"feature", "idea", "suggest"}},
	}
}

var defaultClassifier = New(DefaultPriorityRules(), DefaultTagRules())

// Default returns the classifier configured with the built-in rules.
func Default() *Classifier { return defaultClassifier }

// Classify runs the built-in rules over content.
func Classify(content string) Result { return defaultClassifier.Classify(content) }

// Classify lower-cases content once and applies the rule set. Tags is never
// nil; an empty message yields the fallback priority and no tags.
func (c *Classifier) Classify(content string) Result {
	fallback := domain.PriorityLow
	if c != nil && c.fallback != "" {
		fallback = c.fallback
	}
	res := Result{Priority: fallback, Tags: []string{}}
	if c == nil || content == "" {
		return res
	}

	lower := fold(content)

	for _, tier := range c.tiers {
		if containsAny(lower, tier.Keywords) {
			res.Priority = tier.Priority
			break
		}
	}

	seen := make(map[string]struct{}, len(c.tags))
	for _, rule := range c.tags {
		if _, dup := seen[rule.Tag]; dup {
			continue
		}
		if containsAny(lower, rule.Keywords) {
			seen[rule.Tag] = struct{}{}
			res.Tags = append(res.Tags, rule.Tag)
		}
	}
	return res
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// fold lower-cases s the same way for keywords and content, so a keyword
// always matches its own spelling in a message.
func fold(s string) string {
	// cases.Caser is stateful; build one per call.
	return cases.Lower(language.Und).String(s)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		out = append(out, fold(k))
	}
	return out
}
