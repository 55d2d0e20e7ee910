package model

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// PatternRule maps a case-insensitive text pattern to complementary search
// keywords. Patterns are compiled once at load; a rule whose pattern fails
// to compile falls back to substring matching on the raw pattern text.
type PatternRule struct {
	Pattern  string   `json:"pattern" yaml:"pattern"`
	Keywords []string `json:"keywords" yaml:"keywords"`

	re *regexp.Regexp
}

// Compile prepares the rule's regular expression. Compilation is
// case-insensitive.
func (r *PatternRule) Compile() error {
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return eris.Wrapf(err, "ruleset: compile pattern %q", r.Pattern)
	}
	r.re = re
	return nil
}

// Match reports whether the rule's pattern occurs in text. Uncompiled rules
// match by case-insensitive substring.
func (r *PatternRule) Match(text string) bool {
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(r.Pattern))
}

// RuleSet drives the recommendation engine. Loaded once per session and
// immutable thereafter except for an externally-triggered settings refresh.
type RuleSet struct {
	// ManualProductIDs is the merchant's hand-picked list. When non-empty it
	// is exclusive: no other strategy contributes.
	ManualProductIDs []string `json:"manual_product_ids" yaml:"manual_product_ids"`

	// Automatic is the built-in pattern -> complementary-keyword table.
	Automatic []PatternRule `json:"automatic" yaml:"automatic"`

	// Overrides are merchant-entered pattern -> keyword rules that outrank
	// the automatic table.
	Overrides []PatternRule `json:"overrides" yaml:"overrides"`
}

// Compile compiles every pattern in the set. The first compile failure is
// returned; rules that failed keep substring-match behavior.
func (rs *RuleSet) Compile() error {
	var firstErr error
	for i := range rs.Automatic {
		if err := rs.Automatic[i].Compile(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := range rs.Overrides {
		if err := rs.Overrides[i].Compile(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HasManual reports whether the manual list short-circuit applies.
func (rs *RuleSet) HasManual() bool {
	return rs != nil && len(rs.ManualProductIDs) > 0
}
