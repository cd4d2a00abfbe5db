package inference

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/synaptica-ai/mdm-pipeline/pkg/mdm"
)

// wireFact is one model answer. Models are loose about types, so answer and
// page are decoded by hand.
type wireFact struct {
	Answer        json.RawMessage `json:"answer"`
	Count         json.RawMessage `json:"count"`
	ExactSentence string          `json:"exact_sentence"`
	Page          json.RawMessage `json:"page"`
}

func (f wireFact) boolFact() mdm.BoolFact {
	return mdm.BoolFact{
		Value:    flexBool(f.Answer) || flexBool(f.Count),
		Evidence: f.ExactSentence,
		Page:     ParsePage(f.Page),
	}
}

func (f wireFact) countFact() mdm.CountFact {
	n, ok := flexInt(f.Count)
	if !ok {
		n, ok = flexInt(f.Answer)
	}
	if !ok && flexBool(f.Answer) {
		n, ok = 1, true
	}
	fact := mdm.CountFact{Evidence: f.ExactSentence, Page: ParsePage(f.Page)}
	if ok {
		fact.Count = &n
	}
	return fact
}

func flexBool(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		return n > 0
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "y", "true":
			return true
		}
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v > 0
		}
	}
	return false
}

func flexInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		return int(n), true
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v, true
		}
	}
	return 0, false
}

// ParsePage reads a page number given as a number or a numeric string.
func ParsePage(raw json.RawMessage) *int {
	n, ok := flexInt(raw)
	if !ok {
		return nil
	}
	return &n
}

type wireCondition struct {
	Condition     string          `json:"condition"`
	Category      string          `json:"category"`
	ExactSentence string          `json:"exact_sentence"`
	Page          json.RawMessage `json:"page"`
}

type wireProblems struct {
	PatientType string          `json:"patientType"`
	Conditions  []wireCondition `json:"conditions"`
}

// facts converts the listed conditions into findings. Unknown categories are dropped.
func (w wireProblems) facts() *mdm.ProblemFacts {
	out := &mdm.ProblemFacts{Counts: map[mdm.ProblemCategory]mdm.CountFact{}}
	for _, c := range w.Conditions {
		cat, ok := mdm.ParseProblemCategory(c.Category)
		if !ok || strings.TrimSpace(c.Condition) == "" {
			continue
		}
		out.Findings = append(out.Findings, mdm.ProblemFinding{
			Condition: strings.TrimSpace(c.Condition),
			Category:  cat,
			Evidence:  c.ExactSentence,
			Page:      ParsePage(c.Page),
		})
	}
	return out
}

type wireData struct {
	RENOTE  wireFact `json:"RENOTE"`
	RTEST   wireFact `json:"RTEST"`
	OTEST   wireFact `json:"OTEST"`
	IHIST   wireFact `json:"IHIST"`
	IINTERP wireFact `json:"IINTERP"`
	DMEXT   wireFact `json:"DMEXT"`
}

func (w wireData) facts() *mdm.DataFacts {
	return &mdm.DataFacts{
		RENOTE:  w.RENOTE.countFact(),
		RTEST:   w.RTEST.countFact(),
		OTEST:   w.OTEST.countFact(),
		IHIST:   w.IHIST.boolFact(),
		IINTERP: w.IINTERP.boolFact(),
		DMEXT:   w.DMEXT.boolFact(),
	}
}

var riskKeys = map[string]mdm.RiskFlag{
	"MIN_RISK":           mdm.RiskMinimal,
	"LOW_RISK":           mdm.RiskLow,
	"RX_MGMT":            mdm.RiskPrescriptionManagement,
	"MIN_SURG_RISK":      mdm.RiskMinorSurgeryWithRisk,
	"MAJ_SURG_NO_RISK":   mdm.RiskMajorSurgeryNoRisk,
	"SDOH_LIMIT":         mdm.RiskSocialDeterminants,
	"TOX_MONITOR":        mdm.RiskToxicityMonitoring,
	"MAJ_SURG_WITH_RISK": mdm.RiskMajorSurgeryWithRisk,
	"EMERG_SURG":         mdm.RiskEmergencySurgery,
	"HOSP_ESCALATE":      mdm.RiskHospitalization,
	"DNR":                mdm.RiskDNR,
	"IV_CONTROLLED":      mdm.RiskParenteralControlled,
}

type wireRisk map[string]wireFact

// facts accepts both the upper-case prompt keys and the engine's own flag names.
func (w wireRisk) facts() mdm.RiskFacts {
	out := mdm.RiskFacts{}
	for key, answer := range w {
		flag, ok := riskKeys[strings.ToUpper(key)]
		if !ok {
			flag = mdm.RiskFlag(key)
			if !flag.Known() {
				continue
			}
		}
		out[flag] = answer.boolFact()
	}
	return out
}

type wireVisit struct {
	VisitType string          `json:"visit_type"`
	Age       json.RawMessage `json:"age"`
	CPTCode   string          `json:"cpt_code"`
}

func (w wireVisit) facts() mdm.VisitFacts {
	age := strings.Trim(string(bytes.TrimSpace(w.Age)), `"`)
	if age == "null" {
		age = ""
	}
	return mdm.VisitFacts{
		Type:    mdm.ParseVisitType(w.VisitType),
		Age:     age,
		CPTCode: strings.TrimSpace(w.CPTCode),
	}
}
