package mdm

// MaxDataCount caps each Table B count so a repeated action cannot dominate.
const MaxDataCount = 3

// ProblemLevel scores Table A.
func (t Tables) ProblemLevel(p *ProblemFacts) Level {
	if p == nil {
		return Straightforward
	}

	level := Straightforward
	for _, cat := range ProblemPrecedence {
		n := p.Count(cat)
		if n == 0 {
			continue
		}
		pair := t.Problems[cat]
		candidate := pair.Single
		if n >= 2 {
			candidate = pair.Multiple
		}
		level = maxLevel(level, candidate.OrDefault())
	}

	acute := p.Count(AcuteUncomplicated) + p.Count(StableAcute)
	chronic := p.Count(StableChronic)
	if acute >= 2 || (acute >= 1 && chronic >= 1) || p.Count(ChronicExacerbation) >= 2 {
		level = maxLevel(level, Moderate)
	}
	return level
}

// DataLevel scores Table B.
func DataLevel(d *DataFacts) Level {
	if d == nil {
		return Straightforward
	}

	renote := capCount(d.RENOTE.N())
	rtest := capCount(d.RTEST.N())
	otest := capCount(d.OTEST.N())
	points := renote + rtest + otest
	if d.IHIST.Value {
		points++
	}
	interp := d.IINTERP.Value
	discussion := d.DMEXT.Value

	switch {
	case points == 0 && !interp && !discussion:
		return Straightforward
	case renote == 1 && points == 1 && !interp && !discussion:
		return Low
	case (interp && discussion) || (points >= 3 && (interp || discussion)):
		return High
	case points >= 3 || interp || discussion:
		return Moderate
	case points == 2:
		return Low
	default:
		return Straightforward
	}
}

func capCount(n int) int {
	if n > MaxDataCount {
		return MaxDataCount
	}
	return n
}

// RiskLevel scores Table C: the highest level among present flags.
func (t Tables) RiskLevel(r RiskFacts) Level {
	level := Straightforward
	for _, flag := range RiskSeverity {
		if r.Has(flag) {
			level = maxLevel(level, t.Risk[flag].OrDefault())
		}
	}
	return level
}

// Combine returns the median of the three axis levels.
func Combine(problems, data, risk Level) Level {
	a, b, c := problems.OrDefault(), data.OrDefault(), risk.OrDefault()
	if a > b {
		a, b = b, a
	}
	if b > c {
		b, c = c, b
	}
	if a > b {
		a, b = b, a
	}
	return b
}

// LookupCPT maps a final level and patient type to an office-visit code.
// Patients of unknown type are billed as new.
func (t Tables) LookupCPT(level Level, patient PatientType) string {
	if patient == PatientEstablished {
		return t.CPT.Established[level.OrDefault()]
	}
	return t.CPT.New[level.OrDefault()]
}

// NoCPTCode is the classifier's placeholder when a visit has no literal code.
const NoCPTCode = "00000"

// OverridesCPT reports whether the visit type replaces the computed code.
func (v VisitType) OverridesCPT() bool {
	switch v {
	case VisitInpatient, VisitEmergency, VisitConsult, VisitPreventive,
		VisitTelehealth, VisitFacility, VisitCritical:
		return true
	}
	return false
}

// ApplyVisitOverride returns the visit's literal code in place of computed
// when the visit is a confidently classified non-office type.
func ApplyVisitOverride(computed string, visit VisitFacts) (string, bool) {
	code := visit.CPTCode
	if !visit.Type.OverridesCPT() || code == "" || code == NoCPTCode {
		return computed, false
	}
	return code, true
}
