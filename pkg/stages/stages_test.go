package stages

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/icd"
	"github.com/synaptica-ai/mdm-pipeline/pkg/inference"
	"github.com/synaptica-ai/mdm-pipeline/pkg/mdm"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
)

func init() {
	logger.Silence()
}

var onePass = httpclient.Policy{Attempts: 1}

func ocrTask(pid string) *pipeline.OcrTask {
	return &pipeline.OcrTask{
		Header: pipeline.Header{
			PatientID:     pid,
			TaskID:        "t-1",
			ReturnHeaders: map[string]string{"X-Tenant": "clinic-a"},
		},
		BlobLocation: pipeline.BlobLocation{SASToken: "sas", AfterOcrBlobPath: "out/" + pid + ".pdf"},
	}
}

func TestOCRProcessorForwardsToBackend(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req engineRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "p1", req.PatientID)
		assert.Equal(t, "sas", req.SASToken)
		assert.Equal(t, "clinic-a", req.ReturnHeaders["X-Tenant"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"afterOcrBlobPath": "ocr/p1.pdf",
			"demoFile":         false,
			"traceDto":         map[string]string{"traceId": "abc"},
		})
	}))
	defer engine.Close()

	p := NewOCRProcessor(engine.Client(), engine.URL, "http://backend/ocr", onePass)
	outcome, err := p.Process(context.Background(), ocrTask("p1"))
	require.NoError(t, err)

	result, ok := outcome.Payload.(OCRResult)
	require.True(t, ok)
	assert.Equal(t, "ocr/p1.pdf", result.AfterOcrBlobPath)
	assert.Equal(t, "abc", result.TraceDTO["traceId"])

	require.Len(t, outcome.Notify, 1)
	assert.Equal(t, "http://backend/ocr", outcome.Notify[0].URL)
	assert.Equal(t, "clinic-a", outcome.Notify[0].Headers["X-Tenant"])
}

func TestOCRProcessorEngineFailure(t *testing.T) {
	calls := 0
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer engine.Close()

	p := NewOCRProcessor(engine.Client(), engine.URL, "", httpclient.Policy{Attempts: 2})
	_, err := p.Process(context.Background(), ocrTask("p1"))

	var statusErr *httpclient.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, 2, calls)
}

func TestProcessorsRejectForeignTasks(t *testing.T) {
	_, err := NewOCRProcessor(http.DefaultClient, "", "", onePass).Process(context.Background(), &pipeline.EmTask{})
	assert.ErrorIs(t, err, pipeline.ErrInvalidTask)
}

type recordingSubmitter struct {
	tasks []*pipeline.EmTask
	fresh bool
}

func (s *recordingSubmitter) EnqueueOnce(_ context.Context, task pipeline.Task) (bool, error) {
	s.tasks = append(s.tasks, task.(*pipeline.EmTask))
	return s.fresh, nil
}

func minerServer(t *testing.T, demo bool) *httptest.Server {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/engine", func(w http.ResponseWriter, r *http.Request) {
		var req engineRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Acme", req.Insurance)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"demoFile":         demo,
			"afterOcrBlobPath": "ocr/p2.pdf",
			"afterOcrSasUrl":   server.URL + "/blob",
		})
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Assessment: acute sinusitis"))
	})
	server = httptest.NewServer(mux)
	return server
}

func minerTask() *pipeline.MinerTask {
	return &pipeline.MinerTask{
		Header:       pipeline.Header{PatientID: "p2", ReturnHeaders: map[string]string{"Authorization": "Bearer x"}},
		BlobLocation: pipeline.BlobLocation{BlobSASToken: "blob-sas"},
		Insurance:    "Acme",
	}
}

func TestMinerProcessorEnqueuesEmTask(t *testing.T) {
	server := minerServer(t, false)
	defer server.Close()

	submitter := &recordingSubmitter{fresh: true}
	p := NewMinerProcessor(server.Client(), MinerConfig{
		EngineURL: server.URL + "/engine",
		StatusURL: "http://backend/miner-status",
	}, NewPDFFetcher(server.Client()), submitter)

	outcome, err := p.Process(context.Background(), minerTask())
	require.NoError(t, err)

	require.Len(t, submitter.tasks, 1)
	em := submitter.tasks[0]
	assert.Equal(t, "p2", em.PatientID)
	assert.Equal(t, "insurance: Acme\nAssessment: acute sinusitis", em.Text)
	assert.Equal(t, "Bearer x", em.ReturnHeaders["Authorization"])

	assert.Equal(t, pipeline.StatusQueued, outcome.Status)
	result := outcome.Payload.(MinerResult)
	assert.False(t, result.Duplicate)
	require.Len(t, outcome.Notify, 1)
	assert.Equal(t, "http://backend/miner-status", outcome.Notify[0].URL)
}

func TestMinerProcessorForwardsDemoFiles(t *testing.T) {
	server := minerServer(t, true)
	defer server.Close()

	submitter := &recordingSubmitter{}
	p := NewMinerProcessor(server.Client(), MinerConfig{
		EngineURL: server.URL + "/engine",
		DemoURL:   "http://demo/pii",
	}, NewPDFFetcher(server.Client()), submitter)

	outcome, err := p.Process(context.Background(), minerTask())
	require.NoError(t, err)

	assert.Empty(t, submitter.tasks)
	assert.Equal(t, pipeline.StatusCompleted, outcome.Status)
	require.Len(t, outcome.Notify, 1)
	assert.Equal(t, "http://demo/pii", outcome.Notify[0].URL)
	demo := outcome.Notify[0].Payload.(demoRequest)
	assert.Equal(t, server.URL+"/blob", demo.BlobURL)
}

func TestMinerProcessorFetchFailure(t *testing.T) {
	server := minerServer(t, false)
	defer server.Close()

	p := NewMinerProcessor(server.Client(), MinerConfig{EngineURL: server.URL + "/engine"},
		fetcherFunc(func(context.Context, string) (string, error) { return "", ErrNoText }), &recordingSubmitter{})

	_, err := p.Process(context.Background(), minerTask())
	assert.ErrorIs(t, err, ErrNoText)
}

type fetcherFunc func(ctx context.Context, url string) (string, error)

func (f fetcherFunc) FetchText(ctx context.Context, url string) (string, error) { return f(ctx, url) }

func TestExtractText(t *testing.T) {
	text, err := ExtractText([]byte("  plain OCR text"))
	require.NoError(t, err)
	assert.Equal(t, "  plain OCR text", text)

	_, err = ExtractText([]byte(" \n "))
	assert.ErrorIs(t, err, ErrNoText)

	_, err = ExtractText([]byte("%PDF-1.4 truncated"))
	assert.Error(t, err)
}

type staticExtractor struct {
	extraction *inference.Extraction
}

func (s staticExtractor) Extract(context.Context, string) *inference.Extraction {
	return s.extraction
}

type staticCoder struct{}

func (staticCoder) Code(context.Context, string) *icd.Coding {
	return &icd.Coding{
		PrimaryCondition:   &icd.Condition{Condition: "Sinusitis", ICDCode: "J0190", IsPrimary: true, Source: icd.SourceCatalog},
		SecondaryCondition: []icd.Condition{{Condition: "Otitis media", ICDCode: "H6690", Source: icd.SourceModel}},
	}
}

func twoAcuteFacts() mdm.ClinicalFacts {
	page := 1
	return mdm.ClinicalFacts{
		PatientType: mdm.PatientEstablished,
		Visit:       mdm.VisitFacts{Type: mdm.VisitOffice},
		Problems: &mdm.ProblemFacts{Findings: []mdm.ProblemFinding{
			{Condition: "Sinusitis", Category: mdm.AcuteUncomplicated, Evidence: "sinusitis", Page: &page},
			{Condition: "Otitis media", Category: mdm.AcuteUncomplicated, Evidence: "otitis media", Page: &page},
		}},
		Data: &mdm.DataFacts{},
		Risk: mdm.RiskFacts{mdm.RiskMinimal: {Value: true, Evidence: "rest, fluids", Page: &page}},
	}
}

func TestEMProcessorScoresAndNotifies(t *testing.T) {
	x := &inference.Extraction{
		Facts:        twoAcuteFacts(),
		Demographics: &inference.Demographics{Name: "Jane Roe"},
	}
	p := NewEMProcessor(staticExtractor{x}, staticCoder{}, mdm.NewEngine(mdm.DefaultTables()), "http://backend/em")

	task := &pipeline.EmTask{
		Header: pipeline.Header{
			PatientID:     "p3",
			TraceDTO:      map[string]interface{}{"traceId": "t-9"},
			ReturnHeaders: map[string]string{"X-Tenant": "clinic-a"},
		},
		Text: "insurance: Acme\nchart",
	}
	outcome, err := p.Process(context.Background(), task)
	require.NoError(t, err)

	result := outcome.Payload.(*EMResult)
	assert.Equal(t, "p3", result.PatientID)
	assert.Equal(t, "99212", result.MedicalEvaluation.CPTCode)
	assert.Equal(t, mdm.Straightforward, result.MedicalEvaluation.FinalLevel)
	assert.Equal(t, "Jane Roe", result.DemoResponse.Name)
	assert.Equal(t, "t-9", result.TraceDTO["traceId"])
	assert.Equal(t, []string{"99212"}, result.ProcedureMapping.SourceData.CPTData.AllCPTList)
	assert.Equal(t, []string{"99212"}, result.ProcedureMapping.Mapping.ICDToCPT["J0190"])
	assert.Equal(t, []string{"99212"}, result.ProcedureMapping.Mapping.ICDToCPT["H6690"])

	require.Len(t, outcome.Notify, 1)
	assert.Equal(t, "http://backend/em", outcome.Notify[0].URL)
	assert.Equal(t, "clinic-a", outcome.Notify[0].Headers["X-Tenant"])

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Contains(t, wire, "medicalEvaluation")
	assert.Contains(t, wire["procedureMapping"], "source_data")
}

func TestEMProcessorDegradedSections(t *testing.T) {
	facts := twoAcuteFacts()
	facts.Data = nil
	x := &inference.Extraction{Facts: facts, Failures: map[string]string{"data": "timeout"}}
	p := NewEMProcessor(staticExtractor{x}, nil, mdm.NewEngine(mdm.DefaultTables()), "")

	result, err := p.Evaluate(context.Background(), "p4", "chart")
	require.NoError(t, err)
	assert.Equal(t, []string{"data"}, result.MedicalEvaluation.Degraded)
	assert.Equal(t, "timeout", result.ExtractionErrors["data"])
	assert.Nil(t, result.ProcedureMapping.SourceData.ICDData)
}

func TestEMProcessorFailsWhenNothingExtracted(t *testing.T) {
	x := &inference.Extraction{Failures: map[string]string{"problems": "x", "data": "y", "risk": "z"}}
	p := NewEMProcessor(staticExtractor{x}, staticCoder{}, mdm.NewEngine(mdm.DefaultTables()), "")

	_, err := p.Process(context.Background(), &pipeline.EmTask{Header: pipeline.Header{PatientID: "p5"}, Text: "chart"})
	assert.ErrorIs(t, err, ErrNothingExtracted)
}

type proseInferer struct{}

func (proseInferer) Infer(context.Context, string, string) (string, error) {
	return "Sorry, I cannot produce JSON for this chart.", nil
}

func TestEMProcessorScoresDefaultsOnMalformedAnswers(t *testing.T) {
	logger.Silence()
	p := NewEMProcessor(inference.NewExtractor(proseInferer{}, 0), nil, mdm.NewEngine(mdm.DefaultTables()), "")

	out, err := p.Process(context.Background(), &pipeline.EmTask{Header: pipeline.Header{PatientID: "p6"}, Text: "chart"})
	require.NoError(t, err)

	result := out.Payload.(*EMResult)
	assert.Equal(t, "99202", result.MedicalEvaluation.CPTCode)
	assert.Equal(t, mdm.Straightforward, result.MedicalEvaluation.FinalLevel)
	assert.Equal(t, []string{"problems", "data", "risk"}, result.MedicalEvaluation.Degraded)
	assert.Len(t, result.ExtractionErrors, 5)
}
