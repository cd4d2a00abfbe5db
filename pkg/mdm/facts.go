package mdm

import "strings"

// BoolFact is a yes/no answer with its verbatim provenance.
type BoolFact struct {
	Value    bool   `json:"value"`
	Evidence string `json:"evidence,omitempty"`
	Page     *int   `json:"page"`
}

// CountFact is a count with its verbatim provenance. A nil Count means zero.
type CountFact struct {
	Count    *int   `json:"count"`
	Evidence string `json:"evidence,omitempty"`
	Page     *int   `json:"page"`
}

// N returns the count, treating nil and negatives as zero.
func (c CountFact) N() int {
	if c.Count == nil || *c.Count < 0 {
		return 0
	}
	return *c.Count
}

// ProblemCategory is one of the eleven problem classes of Table A.
type ProblemCategory string

const (
	ThreatToLife              ProblemCategory = "TLF"
	ChronicSevereExacerbation ProblemCategory = "CISE"
	AcuteSystemic             ProblemCategory = "AIS"
	ChronicExacerbation       ProblemCategory = "CIE"
	UndiagnosedNewProblem     ProblemCategory = "UNP"
	AcuteRequiringObservation ProblemCategory = "AUIO"
	AcuteComplicatedInjury    ProblemCategory = "ACI"
	AcuteUncomplicated        ProblemCategory = "AUI"
	StableAcute               ProblemCategory = "SAI"
	StableChronic             ProblemCategory = "SCI"
	SelfLimited               ProblemCategory = "SLM"
)

// ProblemPrecedence orders categories from most to least severe. Duplicate
// conditions are kept in the earliest category of this list.
var ProblemPrecedence = []ProblemCategory{
	ThreatToLife,
	ChronicSevereExacerbation,
	AcuteSystemic,
	ChronicExacerbation,
	UndiagnosedNewProblem,
	AcuteRequiringObservation,
	AcuteComplicatedInjury,
	AcuteUncomplicated,
	StableAcute,
	StableChronic,
	SelfLimited,
}

var problemRank = func() map[ProblemCategory]int {
	m := make(map[ProblemCategory]int, len(ProblemPrecedence))
	for i, c := range ProblemPrecedence {
		m[c] = i
	}
	return m
}()

// Known reports whether c is one of the Table A categories.
func (c ProblemCategory) Known() bool {
	_, ok := problemRank[c]
	return ok
}

// Outranks reports whether c takes precedence over other.
func (c ProblemCategory) Outranks(other ProblemCategory) bool {
	return problemRank[c] < problemRank[other]
}

// ParseProblemCategory is case-insensitive.
func ParseProblemCategory(s string) (ProblemCategory, bool) {
	c := ProblemCategory(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Known()
}

// ProblemFinding is one named condition assigned to a category.
type ProblemFinding struct {
	Condition string          `json:"condition"`
	Category  ProblemCategory `json:"category"`
	Evidence  string          `json:"evidence,omitempty"`
	Page      *int            `json:"page"`
}

// ProblemFacts carries per-category counts and, when available, the
// individual findings the counts were derived from.
type ProblemFacts struct {
	Counts   map[ProblemCategory]CountFact `json:"counts"`
	Findings []ProblemFinding              `json:"findings,omitempty"`
}

func (p *ProblemFacts) Count(c ProblemCategory) int {
	if p == nil {
		return 0
	}
	return p.Counts[c].N()
}

// Total is the number of problems across all categories.
func (p *ProblemFacts) Total() int {
	total := 0
	for _, c := range ProblemPrecedence {
		total += p.Count(c)
	}
	return total
}

// DataFacts is the fixed seven-field record behind Table B.
type DataFacts struct {
	NM      BoolFact  `json:"NM"`
	RENOTE  CountFact `json:"RENOTE"`
	RTEST   CountFact `json:"RTEST"`
	OTEST   CountFact `json:"OTEST"`
	IHIST   BoolFact  `json:"IHIST"`
	IINTERP BoolFact  `json:"IINTERP"`
	DMEXT   BoolFact  `json:"DMEXT"`
}

// RiskFlag is one of the twelve Table C risk categories.
type RiskFlag string

const (
	RiskMinimal                RiskFlag = "minRisk"
	RiskLow                    RiskFlag = "lowRisk"
	RiskPrescriptionManagement RiskFlag = "rxMgmt"
	RiskMinorSurgeryWithRisk   RiskFlag = "minSurgRisk"
	RiskMajorSurgeryNoRisk     RiskFlag = "majSurgNoRisk"
	RiskSocialDeterminants     RiskFlag = "sdohLimit"
	RiskToxicityMonitoring     RiskFlag = "toxMonitor"
	RiskMajorSurgeryWithRisk   RiskFlag = "majSurgWithRisk"
	RiskEmergencySurgery       RiskFlag = "emergSurg"
	RiskHospitalization        RiskFlag = "hospEscalate"
	RiskDNR                    RiskFlag = "dnr"
	RiskParenteralControlled   RiskFlag = "ivControlled"
)

// RiskSeverity orders flags from least to most severe. The most severe
// present flag decides the risk axis, so table levels must be
// non-decreasing along this order.
var RiskSeverity = []RiskFlag{
	RiskMinimal,
	RiskLow,
	RiskPrescriptionManagement,
	RiskMinorSurgeryWithRisk,
	RiskMajorSurgeryNoRisk,
	RiskSocialDeterminants,
	RiskToxicityMonitoring,
	RiskMajorSurgeryWithRisk,
	RiskEmergencySurgery,
	RiskHospitalization,
	RiskDNR,
	RiskParenteralControlled,
}

func (f RiskFlag) Known() bool {
	for _, known := range RiskSeverity {
		if f == known {
			return true
		}
	}
	return false
}

// RiskFacts maps each flag to its answer. A nil map means risk was not extracted.
type RiskFacts map[RiskFlag]BoolFact

func (r RiskFacts) Has(flag RiskFlag) bool {
	return r[flag].Value
}

type PatientType string

const (
	PatientNew         PatientType = "NEW"
	PatientEstablished PatientType = "ESTABLISHED"
	PatientUnknown     PatientType = "UNKNOWN"
)

// ParsePatientType understands the plain words and the "NEW PAT"/"EST PAT"
// labels found in procedure sections.
func ParsePatientType(s string) PatientType {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case v == "NEW" || strings.Contains(v, "NEW PAT"):
		return PatientNew
	case v == "ESTABLISHED" || v == "EST" || strings.Contains(v, "EST PAT"):
		return PatientEstablished
	default:
		return PatientUnknown
	}
}

type VisitType string

const (
	VisitOffice     VisitType = "Office"
	VisitInpatient  VisitType = "Inpatient"
	VisitEmergency  VisitType = "Emergency"
	VisitConsult    VisitType = "Consult"
	VisitPreventive VisitType = "Preventive"
	VisitTelehealth VisitType = "Telehealth"
	VisitFacility   VisitType = "Facility"
	VisitCritical   VisitType = "Critical"
	VisitUnknown    VisitType = "Unknown"
)

var visitTypes = []VisitType{
	VisitOffice, VisitInpatient, VisitEmergency, VisitConsult, VisitPreventive,
	VisitTelehealth, VisitFacility, VisitCritical, VisitUnknown,
}

// ParseVisitType is case-insensitive; anything unrecognised is Unknown.
func ParseVisitType(s string) VisitType {
	for _, v := range visitTypes {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v
		}
	}
	return VisitUnknown
}

// VisitFacts is the visit classifier's answer.
type VisitFacts struct {
	Type    VisitType `json:"visit_type"`
	Age     string    `json:"age,omitempty"`
	CPTCode string    `json:"cpt_code,omitempty"`
}

// ClinicalFacts is everything the engine scores. Nil sections mean the
// extraction for that axis failed.
type ClinicalFacts struct {
	Problems    *ProblemFacts `json:"problems,omitempty"`
	Data        *DataFacts    `json:"data,omitempty"`
	Risk        RiskFacts     `json:"risk,omitempty"`
	PatientType PatientType   `json:"patientType"`
	Visit       VisitFacts    `json:"visit"`
}
