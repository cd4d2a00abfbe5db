package inference

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/mdm"
	"golang.org/x/sync/errgroup"
)

// Sections extracted from a chart.
const (
	SectionVisit        = "visit"
	SectionProblems     = "problems"
	SectionData         = "data"
	SectionRisk         = "risk"
	SectionDemographics = "demographics"
)

// Demographics is copied verbatim from the chart header.
type Demographics struct {
	Name           string `json:"name"`
	Gender         string `json:"gender"`
	DateOfBirth    string `json:"dateOfBirth"`
	Age            string `json:"age"`
	DateOfService  string `json:"dateOfService"`
	MRN            string `json:"mrn"`
	AccountNumber  string `json:"accountNumber"`
	Email          string `json:"email"`
	InsuranceName  string `json:"insuranceName"`
	FinancialClass string `json:"financialClass"`
	PatientType    string `json:"patientType"`
}

// Extraction is the joined answer of all section calls. Failed sections are
// left unset in Facts and listed in Failures; Errors keeps the cause.
type Extraction struct {
	Facts        mdm.ClinicalFacts `json:"facts"`
	Demographics *Demographics     `json:"demographics,omitempty"`
	Failures     map[string]string `json:"failures,omitempty"`
	Errors       map[string]error  `json:"-"`
}

// scoringSections feed the three complexity axes.
var scoringSections = []string{SectionProblems, SectionData, SectionRisk}

// Transient reports whether a scoring section failed for a reason a retry may
// cure. A malformed or empty answer is not transient; a failure with no
// recorded cause is.
func (x *Extraction) Transient() bool {
	for _, section := range scoringSections {
		if _, failed := x.Failures[section]; !failed {
			continue
		}
		err := x.Errors[section]
		if err == nil || !(errors.Is(err, ErrMalformed) || errors.Is(err, ErrEmptyAnswer)) {
			return true
		}
	}
	return false
}

// Failed lists the failed sections in a stable order.
func (x *Extraction) Failed() []string {
	out := make([]string, 0, len(x.Failures))
	for section := range x.Failures {
		out = append(out, section)
	}
	sort.Strings(out)
	return out
}

type Extractor struct {
	inferer Inferer
	timeout time.Duration
}

// NewExtractor bounds each section call by timeout; zero leaves calls bounded only by ctx.
func NewExtractor(inferer Inferer, timeout time.Duration) *Extractor {
	return &Extractor{inferer: inferer, timeout: timeout}
}

// Extract asks for every section concurrently and waits for all of them. A
// failed or hung call costs only its own section.
func (e *Extractor) Extract(ctx context.Context, document string) *Extraction {
	var (
		mu       sync.Mutex
		failures = map[string]string{}
		causes   = map[string]error{}
		visit    wireVisit
		problems wireProblems
		data     wireData
		risk     wireRisk
		demo     Demographics
	)

	var g errgroup.Group
	ask := func(section, instructions string, out interface{}) {
		g.Go(func() error {
			start := time.Now()
			err := AskJSON(ctx, e.inferer, e.timeout, document, instructions, out)
			log := logger.WithFields(logrus.Fields{
				"section":     section,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if err != nil {
				log.WithError(err).Warn("extraction failed")
				mu.Lock()
				failures[section] = err.Error()
				causes[section] = err
				mu.Unlock()
				return nil
			}
			log.Debug("extraction completed")
			return nil
		})
	}

	ask(SectionVisit, visitInstructions, &visit)
	ask(SectionProblems, problemsInstructions, &problems)
	ask(SectionData, dataInstructions, &data)
	ask(SectionRisk, riskInstructions, &risk)
	ask(SectionDemographics, demographicsInstructions, &demo)
	_ = g.Wait()

	x := &Extraction{Failures: failures, Errors: causes}
	x.Facts.Visit = mdm.VisitFacts{Type: mdm.VisitUnknown}
	if _, failed := failures[SectionVisit]; !failed {
		x.Facts.Visit = visit.facts()
	}
	x.Facts.PatientType = mdm.PatientUnknown
	if _, failed := failures[SectionProblems]; !failed {
		x.Facts.Problems = problems.facts()
		x.Facts.PatientType = mdm.ParsePatientType(problems.PatientType)
	}
	if _, failed := failures[SectionData]; !failed {
		x.Facts.Data = data.facts()
	}
	if _, failed := failures[SectionRisk]; !failed {
		x.Facts.Risk = risk.facts()
	}
	if _, failed := failures[SectionDemographics]; !failed {
		x.Demographics = &demo
	}

	if x.Facts.PatientType == mdm.PatientUnknown && x.Demographics != nil {
		x.Facts.PatientType = mdm.ParsePatientType(x.Demographics.PatientType)
	}
	if len(x.Failures) == 0 {
		x.Failures, x.Errors = nil, nil
	}
	return x
}
