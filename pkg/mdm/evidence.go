package mdm

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxEvidenceLength is the longest evidence snippet accepted as pinpoint provenance.
const MaxEvidenceLength = 15

var bareTokens = map[string]struct{}{
	"yes": {}, "no": {}, "true": {}, "false": {}, "y": {}, "n": {},
	"null": {}, "none": {}, "nil": {}, "n/a": {}, "na": {},
}

// ValidEvidence reports whether s can back a positive fact.
func ValidEvidence(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > MaxEvidenceLength {
		return false
	}
	if _, bare := bareTokens[strings.ToLower(s)]; bare {
		return false
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return false
	}
	return true
}

func normalizePage(page *int) *int {
	if page == nil || *page <= 0 {
		return nil
	}
	p := *page
	return &p
}

// Normalize applies the evidence-or-null contract: a yes without valid
// evidence becomes no, and a no never carries evidence or a page.
func (f BoolFact) Normalize() BoolFact {
	evidence := strings.TrimSpace(f.Evidence)
	if !f.Value || !ValidEvidence(evidence) {
		return BoolFact{}
	}
	return BoolFact{Value: true, Evidence: evidence, Page: normalizePage(f.Page)}
}

// Normalize applies the evidence-or-null contract to a count.
func (c CountFact) Normalize() CountFact {
	evidence := strings.TrimSpace(c.Evidence)
	if c.N() == 0 || !ValidEvidence(evidence) {
		return CountFact{}
	}
	n := c.N()
	return CountFact{Count: &n, Evidence: evidence, Page: normalizePage(c.Page)}
}

func (f ProblemFinding) normalize() (ProblemFinding, bool) {
	evidence := strings.TrimSpace(f.Evidence)
	name := strings.TrimSpace(f.Condition)
	if name == "" || !f.Category.Known() || !ValidEvidence(evidence) {
		return ProblemFinding{}, false
	}
	return ProblemFinding{
		Condition: name,
		Category:  f.Category,
		Evidence:  evidence,
		Page:      normalizePage(f.Page),
	}, true
}
