package mdm

import "strings"

// Normalize returns a copy of facts with every consistency rule applied:
// evidence-or-null on all facts, problem de-duplication, derived NM, the
// prescription-management dependency on problems, and a single primary risk
// flag. Normalize(Normalize(f)) equals Normalize(f).
func Normalize(facts ClinicalFacts) ClinicalFacts {
	out := ClinicalFacts{
		PatientType: ParsePatientType(string(facts.PatientType)),
		Visit: VisitFacts{
			Type:    ParseVisitType(string(facts.Visit.Type)),
			Age:     strings.TrimSpace(facts.Visit.Age),
			CPTCode: strings.TrimSpace(facts.Visit.CPTCode),
		},
	}

	if facts.Problems != nil {
		out.Problems = normalizeProblems(facts.Problems)
	}
	if facts.Data != nil {
		out.Data = normalizeData(facts.Data)
	}
	if facts.Risk != nil {
		out.Risk = normalizeRisk(facts.Risk, out.Problems.Total() > 0)
	}
	return out
}

func normalizeProblems(in *ProblemFacts) *ProblemFacts {
	out := &ProblemFacts{Counts: make(map[ProblemCategory]CountFact)}

	findings := dedupeFindings(in.Findings)
	if len(findings) > 0 {
		out.Findings = findings
		for _, f := range findings {
			cf := out.Counts[f.Category]
			n := cf.N() + 1
			if cf.Count == nil {
				cf.Evidence = f.Evidence
				cf.Page = normalizePage(f.Page)
			}
			cf.Count = &n
			out.Counts[f.Category] = cf
		}
		return out
	}

	for cat, cf := range in.Counts {
		if !cat.Known() {
			continue
		}
		if normalized := cf.Normalize(); normalized.Count != nil {
			out.Counts[cat] = normalized
		}
	}
	return out
}

// dedupeFindings drops findings without provenance and keeps each condition
// once, in its highest-precedence category. Input order is otherwise kept.
func dedupeFindings(in []ProblemFinding) []ProblemFinding {
	index := make(map[string]int)
	var out []ProblemFinding
	for _, raw := range in {
		f, ok := raw.normalize()
		if !ok {
			continue
		}
		key := strings.ToLower(f.Condition)
		if i, seen := index[key]; seen {
			if f.Category.Outranks(out[i].Category) {
				out[i] = f
			}
			continue
		}
		index[key] = len(out)
		out = append(out, f)
	}
	return out
}

func normalizeData(in *DataFacts) *DataFacts {
	out := &DataFacts{
		RENOTE:  in.RENOTE.Normalize(),
		RTEST:   in.RTEST.Normalize(),
		OTEST:   in.OTEST.Normalize(),
		IHIST:   in.IHIST.Normalize(),
		IINTERP: in.IINTERP.Normalize(),
		DMEXT:   in.DMEXT.Normalize(),
	}
	// NM is derived and never carries evidence.
	out.NM = BoolFact{Value: out.RENOTE.N() == 0 &&
		out.RTEST.N() == 0 &&
		out.OTEST.N() == 0 &&
		!out.IINTERP.Value &&
		!out.DMEXT.Value}
	return out
}

func normalizeRisk(in RiskFacts, hasProblems bool) RiskFacts {
	out := make(RiskFacts, len(RiskSeverity))
	for _, flag := range RiskSeverity {
		out[flag] = in[flag].Normalize()
	}

	if !hasProblems {
		out[RiskPrescriptionManagement] = BoolFact{}
	}

	primary := RiskFlag("")
	for _, flag := range RiskSeverity {
		if out[flag].Value {
			primary = flag
		}
	}
	for _, flag := range RiskSeverity {
		if flag != primary {
			out[flag] = BoolFact{}
		}
	}
	return out
}

// PrimaryRisk returns the single remaining risk flag after normalization.
func (r RiskFacts) PrimaryRisk() (RiskFlag, bool) {
	for i := len(RiskSeverity) - 1; i >= 0; i-- {
		if r[RiskSeverity[i]].Value {
			return RiskSeverity[i], true
		}
	}
	return "", false
}
