// Package stages holds the processors that give each pipeline stage its
// behaviour: calling the OCR engines, routing mined documents, and coding
// charts.
package stages

import (
	"context"
	"fmt"
	"net/http"

	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
)

// engineRequest is what both OCR engines accept.
type engineRequest struct {
	PatientID        string                 `json:"patientId"`
	Insurance        string                 `json:"insurance,omitempty"`
	SASToken         string                 `json:"sasToken"`
	BlobSASToken     string                 `json:"blobSasToken"`
	AfterOcrBlobPath string                 `json:"afterOcrBlobPath"`
	ReturnHeaders    map[string]string      `json:"returnHeaders"`
	ConnectionString string                 `json:"connectionString"`
	TraceDTO         map[string]interface{} `json:"traceDto"`
}

// engineResponse is what both OCR engines answer.
type engineResponse struct {
	AfterOcrBlobPath string                 `json:"afterOcrBlobPath"`
	AfterOcrSasURL   string                 `json:"afterOcrSasUrl"`
	DemoFile         bool                   `json:"demoFile"`
	Insurance        string                 `json:"insurance"`
	ReturnHeaders    map[string]string      `json:"returnHeaders"`
	TraceDTO         map[string]interface{} `json:"traceDto"`
}

func newEngineRequest(h pipeline.Header, loc pipeline.BlobLocation, insurance string) engineRequest {
	return engineRequest{
		PatientID:        h.PatientID,
		Insurance:        insurance,
		SASToken:         loc.SASToken,
		BlobSASToken:     loc.BlobSASToken,
		AfterOcrBlobPath: loc.AfterOcrBlobPath,
		ReturnHeaders:    h.ReturnHeaders,
		ConnectionString: loc.ConnectionString,
		TraceDTO:         h.TraceDTO,
	}
}

func callEngine(ctx context.Context, client *http.Client, url string, req engineRequest, policy httpclient.Policy) (*engineResponse, error) {
	if url == "" {
		return nil, fmt.Errorf("engine url not configured")
	}
	resp, err := httpclient.PostWithRetry(ctx, client, url, req, nil, policy)
	if err != nil {
		return nil, fmt.Errorf("ocr engine: %w", err)
	}
	var out engineResponse
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ocr engine response: %w", err)
	}
	return &out, nil
}

// OCRResult is persisted under ocr_result:{patientId} and sent to the backend.
type OCRResult struct {
	PatientID        string                 `json:"patientId"`
	AfterOcrBlobPath string                 `json:"afterOcrBlobPath"`
	TraceDTO         map[string]interface{} `json:"traceDto"`
	DemoFile         bool                   `json:"demoFile"`
}

type OCRProcessor struct {
	client     *http.Client
	engineURL  string
	backendURL string
	policy     httpclient.Policy
}

// NewOCRProcessor expects client to carry the long OCR engine timeout.
func NewOCRProcessor(client *http.Client, engineURL, backendURL string, policy httpclient.Policy) *OCRProcessor {
	return &OCRProcessor{client: client, engineURL: engineURL, backendURL: backendURL, policy: policy}
}

func (p *OCRProcessor) Process(ctx context.Context, task pipeline.Task) (*pipeline.Outcome, error) {
	t, ok := task.(*pipeline.OcrTask)
	if !ok {
		return nil, fmt.Errorf("%w: expected ocr task, got %s", pipeline.ErrInvalidTask, task.Stage())
	}
	log := logger.ForStage(string(pipeline.StageOCR), t.PatientID)

	out, err := callEngine(ctx, p.client, p.engineURL, newEngineRequest(t.Header, t.BlobLocation, ""), p.policy)
	if err != nil {
		return nil, err
	}
	log.WithField("demo_file", out.DemoFile).Info("ocr engine completed")

	result := OCRResult{
		PatientID:        t.PatientID,
		AfterOcrBlobPath: out.AfterOcrBlobPath,
		TraceDTO:         firstTrace(out.TraceDTO, t.TraceDTO),
		DemoFile:         out.DemoFile,
	}

	outcome := &pipeline.Outcome{Payload: result}
	if p.backendURL != "" {
		outcome.Notify = []pipeline.Notification{{
			URL:     p.backendURL,
			Payload: result,
			Headers: firstHeaders(out.ReturnHeaders, t.ReturnHeaders),
		}}
	} else {
		log.Warn("backend url not configured, result not forwarded")
	}
	return outcome, nil
}

func firstTrace(candidates ...map[string]interface{}) map[string]interface{} {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return map[string]interface{}{}
}

func firstHeaders(candidates ...map[string]string) map[string]string {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return nil
}
