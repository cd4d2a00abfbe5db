package stages

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
)

// EmSubmitter is satisfied by *pipeline.Enqueuer.
type EmSubmitter interface {
	EnqueueOnce(ctx context.Context, task pipeline.Task) (bool, error)
}

// MinerResult is persisted under miner_result:{patientId}.
type MinerResult struct {
	Status           string                 `json:"status"`
	PatientID        string                 `json:"patientId"`
	Message          string                 `json:"message"`
	DemoFile         bool                   `json:"demoFile"`
	AfterOcrBlobPath string                 `json:"afterOcrBlobPath"`
	TraceDTO         map[string]interface{} `json:"traceDto"`
	Insurance        string                 `json:"insurance"`
	Duplicate        bool                   `json:"duplicate,omitempty"`
}

type demoRequest struct {
	BlobURL       string                 `json:"blobUrl"`
	PatientID     string                 `json:"patientId"`
	TraceDTO      map[string]interface{} `json:"traceDto"`
	ReturnHeaders map[string]string      `json:"returnHeaders"`
}

type minerStatus struct {
	PatientID string      `json:"patientId"`
	Status    string      `json:"status"`
	Result    MinerResult `json:"result"`
}

type MinerConfig struct {
	EngineURL string
	DemoURL   string
	StatusURL string
	// Policy bounds miner engine calls; the zero value makes a single attempt.
	Policy httpclient.Policy
}

// MinerProcessor runs the miner OCR engine and routes the document: demo
// files go to the demo service, everything else becomes an EM task.
type MinerProcessor struct {
	client  *http.Client
	cfg     MinerConfig
	fetcher TextFetcher
	em      EmSubmitter
}

func NewMinerProcessor(client *http.Client, cfg MinerConfig, fetcher TextFetcher, em EmSubmitter) *MinerProcessor {
	return &MinerProcessor{client: client, cfg: cfg, fetcher: fetcher, em: em}
}

func (p *MinerProcessor) Process(ctx context.Context, task pipeline.Task) (*pipeline.Outcome, error) {
	t, ok := task.(*pipeline.MinerTask)
	if !ok {
		return nil, fmt.Errorf("%w: expected miner task, got %s", pipeline.ErrInvalidTask, task.Stage())
	}
	log := logger.ForStage(string(pipeline.StageMiner), t.PatientID)

	out, err := callEngine(ctx, p.client, p.cfg.EngineURL, newEngineRequest(t.Header, t.BlobLocation, t.Insurance), p.cfg.Policy)
	if err != nil {
		return nil, err
	}
	headers := firstHeaders(t.ReturnHeaders, out.ReturnHeaders)
	trace := firstTrace(out.TraceDTO, t.TraceDTO)
	insurance := out.Insurance
	if insurance == "" {
		insurance = t.Insurance
	}

	var (
		outcome = &pipeline.Outcome{}
		result  MinerResult
	)
	if out.DemoFile {
		result = MinerResult{
			Status:           pipeline.StatusCompleted,
			PatientID:        t.PatientID,
			Message:          "demo file forwarded",
			DemoFile:         true,
			AfterOcrBlobPath: out.AfterOcrBlobPath,
			TraceDTO:         trace,
			Insurance:        insurance,
		}
		if p.cfg.DemoURL != "" {
			outcome.Notify = append(outcome.Notify, pipeline.Notification{
				URL: p.cfg.DemoURL,
				Payload: demoRequest{
					BlobURL:       out.AfterOcrSasURL,
					PatientID:     t.PatientID,
					TraceDTO:      trace,
					ReturnHeaders: headers,
				},
				Headers: headers,
			})
		} else {
			log.Warn("demo url not configured, demo file not forwarded")
		}
	} else {
		text, err := p.fetcher.FetchText(ctx, out.AfterOcrSasURL)
		if err != nil {
			return nil, err
		}
		em := &pipeline.EmTask{
			Header: pipeline.Header{
				PatientID:     t.PatientID,
				TraceDTO:      trace,
				ReturnHeaders: headers,
			},
			Text:             fmt.Sprintf("insurance: %s\n%s", insurance, text),
			AfterOcrBlobPath: out.AfterOcrSasURL,
			Insurance:        insurance,
		}
		pushed, err := p.em.EnqueueOnce(ctx, em)
		if err != nil {
			return nil, fmt.Errorf("enqueue em task: %w", err)
		}
		log.WithFields(logrus.Fields{
			"text_length": len(em.Text),
			"duplicate":   !pushed,
		}).Info("em task submitted")

		result = MinerResult{
			Status:           pipeline.StatusQueued,
			PatientID:        t.PatientID,
			Message:          "EM task enqueued for processing",
			AfterOcrBlobPath: out.AfterOcrSasURL,
			TraceDTO:         trace,
			Insurance:        insurance,
			Duplicate:        !pushed,
		}
	}

	outcome.Status = result.Status
	outcome.Payload = result
	if p.cfg.StatusURL != "" {
		outcome.Notify = append(outcome.Notify, pipeline.Notification{
			URL: p.cfg.StatusURL,
			Payload: minerStatus{
				PatientID: t.PatientID,
				Status:    pipeline.StatusCompleted,
				Result:    result,
			},
			Headers: headers,
		})
	}
	return outcome, nil
}
