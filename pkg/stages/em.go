package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/icd"
	"github.com/synaptica-ai/mdm-pipeline/pkg/inference"
	"github.com/synaptica-ai/mdm-pipeline/pkg/mdm"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
	"golang.org/x/sync/errgroup"
)

// ErrNothingExtracted means no scoring section could be read from the chart
// because the model could not be reached, so the task is worth retrying.
var ErrNothingExtracted = errors.New("no scoring section could be extracted")

type FactExtractor interface {
	Extract(ctx context.Context, document string) *inference.Extraction
}

type DiagnosisCoder interface {
	Code(ctx context.Context, document string) *icd.Coding
}

type CPTData struct {
	AllCPTList []string               `json:"all_cpt_list"`
	HCPCSList  map[string]interface{} `json:"hcpec_list"`
}

type SourceData struct {
	ICDData *icd.Coding `json:"icd_data"`
	CPTData CPTData     `json:"cpt_data"`
}

type CodeMapping struct {
	ICDToCPT   map[string][]string `json:"icd_to_cpt_mapping"`
	ICDToHCPCS map[string][]string `json:"icd_to_hcpcs_mapping"`
}

type ProcedureMapping struct {
	SourceData SourceData  `json:"source_data"`
	Mapping    CodeMapping `json:"mapping"`
}

// EMResult is the final recommendation for one chart.
type EMResult struct {
	PatientID         string                  `json:"patientId"`
	DemoResponse      *inference.Demographics `json:"demoResponse"`
	ProcedureMapping  ProcedureMapping        `json:"procedureMapping"`
	MedicalEvaluation mdm.Assessment          `json:"medicalEvaluation"`
	ExtractionErrors  map[string]string       `json:"extractionErrors,omitempty"`
	TraceDTO          map[string]interface{}  `json:"traceDto"`
}

type EMProcessor struct {
	extractor FactExtractor
	coder     DiagnosisCoder
	engine    *mdm.Engine
	sendURL   string
}

func NewEMProcessor(extractor FactExtractor, coder DiagnosisCoder, engine *mdm.Engine, sendURL string) *EMProcessor {
	return &EMProcessor{extractor: extractor, coder: coder, engine: engine, sendURL: sendURL}
}

func (p *EMProcessor) Process(ctx context.Context, task pipeline.Task) (*pipeline.Outcome, error) {
	t, ok := task.(*pipeline.EmTask)
	if !ok {
		return nil, fmt.Errorf("%w: expected em task, got %s", pipeline.ErrInvalidTask, task.Stage())
	}

	result, err := p.Evaluate(ctx, t.PatientID, t.Text)
	if err != nil {
		return nil, err
	}
	result.TraceDTO = firstTrace(t.TraceDTO)

	outcome := &pipeline.Outcome{Payload: result}
	if p.sendURL != "" {
		outcome.Notify = []pipeline.Notification{{URL: p.sendURL, Payload: result, Headers: t.ReturnHeaders}}
	} else {
		logger.ForStage(string(pipeline.StageEM), t.PatientID).Warn("send url not configured, result not forwarded")
	}
	return outcome, nil
}

// Evaluate extracts facts, diagnoses and demographics concurrently and scores
// the chart. It fails only when every scoring section failed and at least one
// failure was transient; malformed answers score as straightforward axes.
func (p *EMProcessor) Evaluate(ctx context.Context, patientID, text string) (*EMResult, error) {
	log := logger.ForStage(string(pipeline.StageEM), patientID)
	log.WithField("text_length", len(text)).Info("evaluating chart")

	var (
		extraction *inference.Extraction
		coding     *icd.Coding
		g          errgroup.Group
	)
	g.Go(func() error {
		extraction = p.extractor.Extract(ctx, text)
		return nil
	})
	g.Go(func() error {
		if p.coder != nil {
			coding = p.coder.Code(ctx, text)
		}
		return nil
	})
	_ = g.Wait()

	facts := extraction.Facts
	if facts.Problems == nil && facts.Data == nil && facts.Risk == nil && extraction.Transient() {
		return nil, fmt.Errorf("%w: %s", ErrNothingExtracted, strings.Join(extraction.Failed(), ", "))
	}

	assessment := p.engine.Score(ctx, facts)
	log.WithFields(logrus.Fields{
		"final_level": assessment.FinalLevel.String(),
		"cpt_code":    assessment.CPTCode,
		"evaluator":   assessment.Evaluator,
		"degraded":    assessment.Degraded,
	}).Info("chart scored")

	return &EMResult{
		PatientID:         patientID,
		DemoResponse:      extraction.Demographics,
		ProcedureMapping:  procedureMapping(coding, assessment.CPTCode),
		MedicalEvaluation: assessment,
		ExtractionErrors:  extraction.Failures,
		TraceDTO:          map[string]interface{}{},
	}, nil
}

// procedureMapping links every assigned diagnosis to the recommended visit code.
func procedureMapping(coding *icd.Coding, cptCode string) ProcedureMapping {
	pm := ProcedureMapping{
		SourceData: SourceData{
			ICDData: coding,
			CPTData: CPTData{AllCPTList: []string{}, HCPCSList: map[string]interface{}{}},
		},
		Mapping: CodeMapping{
			ICDToCPT:   map[string][]string{},
			ICDToHCPCS: map[string][]string{},
		},
	}
	if cptCode == "" {
		return pm
	}
	pm.SourceData.CPTData.AllCPTList = append(pm.SourceData.CPTData.AllCPTList, cptCode)
	if coding == nil {
		return pm
	}
	if coding.PrimaryCondition != nil {
		pm.Mapping.ICDToCPT[coding.PrimaryCondition.ICDCode] = []string{cptCode}
	}
	for _, c := range coding.SecondaryCondition {
		pm.Mapping.ICDToCPT[c.ICDCode] = []string{cptCode}
	}
	return pm
}
