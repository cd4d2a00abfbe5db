package mdm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
)

// AxisLevels is one evaluator's answer for Tables A, B and C.
type AxisLevels struct {
	Problems Level `json:"problems"`
	Data     Level `json:"data"`
	Risk     Level `json:"risk"`
}

// Evaluator scores the three axes of normalized facts.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, facts ClinicalFacts) (AxisLevels, error)
}

// TableEvaluator is the built-in table rubric.
type TableEvaluator struct {
	Tables Tables
}

func (TableEvaluator) Name() string { return "table" }

func (e TableEvaluator) Evaluate(_ context.Context, facts ClinicalFacts) (AxisLevels, error) {
	return AxisLevels{
		Problems: e.Tables.ProblemLevel(facts.Problems),
		Data:     DataLevel(facts.Data),
		Risk:     e.Tables.RiskLevel(facts.Risk),
	}, nil
}

// Assessment is the engine's full answer for one chart.
type Assessment struct {
	ProblemsLevel   Level             `json:"problemsLevel"`
	DataLevel       Level             `json:"dataLevel"`
	RiskLevel       Level             `json:"riskLevel"`
	FinalLevel      Level             `json:"finalLevel"`
	CPTCode         string            `json:"cptCode"`
	ComputedCPTCode string            `json:"computedCptCode"`
	VisitOverride   bool              `json:"visitOverride"`
	PatientType     PatientType       `json:"patientType"`
	VisitType       VisitType         `json:"visitType"`
	Evaluator       string            `json:"evaluator"`
	Explain         map[string]string `json:"explain"`
	Degraded        []string          `json:"degraded,omitempty"`
	Facts           ClinicalFacts     `json:"facts"`
}

type Engine struct {
	tables    Tables
	evaluator Evaluator
}

type Option func(*Engine)

// WithEvaluator swaps the axis scorer. The table rubric remains the fallback
// whenever the evaluator fails.
func WithEvaluator(ev Evaluator) Option {
	return func(e *Engine) {
		if ev != nil {
			e.evaluator = ev
		}
	}
}

func NewEngine(tables Tables, opts ...Option) *Engine {
	e := &Engine{tables: tables, evaluator: TableEvaluator{Tables: tables}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Tables() Tables {
	return e.tables
}

// Score normalizes facts and reduces them to a level and code. It always
// produces an answer; axes that were not extracted score straightforward.
func (e *Engine) Score(ctx context.Context, facts ClinicalFacts) Assessment {
	normalized := Normalize(facts)

	evaluator := e.evaluator
	levels, err := evaluator.Evaluate(ctx, normalized)
	if err != nil {
		logger.Log.WithError(err).WithField("evaluator", evaluator.Name()).
			Warn("rule evaluator failed, falling back to table rubric")
		evaluator = TableEvaluator{Tables: e.tables}
		levels, _ = evaluator.Evaluate(ctx, normalized)
	}

	var degraded []string
	if normalized.Problems == nil {
		levels.Problems = Straightforward
		degraded = append(degraded, "problems")
	}
	if normalized.Data == nil {
		levels.Data = Straightforward
		degraded = append(degraded, "data")
	}
	if normalized.Risk == nil {
		levels.Risk = Straightforward
		degraded = append(degraded, "risk")
	}
	levels.Problems = levels.Problems.OrDefault()
	levels.Data = levels.Data.OrDefault()
	levels.Risk = levels.Risk.OrDefault()

	final := Combine(levels.Problems, levels.Data, levels.Risk)
	computed := e.tables.LookupCPT(final, normalized.PatientType)
	code, overridden := ApplyVisitOverride(computed, normalized.Visit)

	return Assessment{
		ProblemsLevel:   levels.Problems,
		DataLevel:       levels.Data,
		RiskLevel:       levels.Risk,
		FinalLevel:      final,
		CPTCode:         code,
		ComputedCPTCode: computed,
		VisitOverride:   overridden,
		PatientType:     normalized.PatientType,
		VisitType:       normalized.Visit.Type,
		Evaluator:       evaluator.Name(),
		Explain: map[string]string{
			"problems": explainProblems(normalized.Problems, levels.Problems),
			"data":     explainData(normalized.Data, levels.Data),
			"risk":     explainRisk(normalized.Risk, levels.Risk),
			"final":    fmt.Sprintf("median of %s, %s, %s is %s", levels.Problems, levels.Data, levels.Risk, final),
		},
		Degraded: degraded,
		Facts:    normalized,
	}
}

func explainProblems(p *ProblemFacts, level Level) string {
	if p == nil {
		return "problems not extracted; scored straightforward"
	}
	var parts []string
	for _, cat := range ProblemPrecedence {
		if n := p.Count(cat); n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", cat, n))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("no documented problems; %s", level)
	}
	return fmt.Sprintf("%s; %s", strings.Join(parts, ", "), level)
}

func explainData(d *DataFacts, level Level) string {
	if d == nil {
		return "data not extracted; scored straightforward"
	}
	if d.NM.Value && !d.IHIST.Value {
		return fmt.Sprintf("no data reviewed or ordered; %s", level)
	}
	return fmt.Sprintf("notes=%d results=%d orders=%d historian=%t interpretation=%t discussion=%t; %s",
		d.RENOTE.N(), d.RTEST.N(), d.OTEST.N(), d.IHIST.Value, d.IINTERP.Value, d.DMEXT.Value, level)
}

func explainRisk(r RiskFacts, level Level) string {
	if r == nil {
		return "risk not extracted; scored straightforward"
	}
	var present []string
	for flag, fact := range r {
		if fact.Value {
			present = append(present, string(flag))
		}
	}
	if len(present) == 0 {
		return fmt.Sprintf("no risk documented; %s", level)
	}
	sort.Strings(present)
	return fmt.Sprintf("%s; %s", strings.Join(present, ", "), level)
}
