// Package status reduces the three stage records of a patient to one view.
package status

import (
	"context"
	"errors"

	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
	"github.com/synaptica-ai/mdm-pipeline/pkg/queue"
)

// StageView is one stage as seen by a polling client. A missing result is
// reported as processing, with the queue position when the task is queued.
type StageView struct {
	Stage         pipeline.Stage   `json:"stage"`
	Status        string           `json:"status"`
	Found         bool             `json:"found"`
	InQueue       bool             `json:"inQueue"`
	QueuePosition *int             `json:"queuePosition,omitempty"`
	ResultKey     string           `json:"resultKey"`
	Result        *pipeline.Result `json:"result,omitempty"`
}

// state is the status used for derivation: missing results are not_started.
func (v StageView) state() string {
	if !v.Found {
		if v.InQueue {
			return pipeline.StatusQueued
		}
		return pipeline.StatusNotStarted
	}
	return v.Result.Status
}

type StageError struct {
	Stage pipeline.Stage `json:"stage"`
	Error string         `json:"error"`
}

type StageSummary struct {
	Stage  pipeline.Stage `json:"stage"`
	Status string         `json:"status"`
}

// Report is the comprehensive status of one patient.
type Report struct {
	PatientID     string         `json:"patientId"`
	OverallStatus string         `json:"overallStatus"`
	CurrentStage  string         `json:"currentStage"`
	Stages        []StageView    `json:"stages"`
	Summary       []StageSummary `json:"summary"`
	Errors        []StageError   `json:"errors"`
}

const StageCompleted = "completed"

type Aggregator struct {
	results   *pipeline.Results
	inspector *pipeline.Inspector
}

func NewAggregator(store queue.Store) *Aggregator {
	return &Aggregator{
		results:   pipeline.NewResults(store),
		inspector: pipeline.NewInspector(store),
	}
}

func (a *Aggregator) StageStatus(ctx context.Context, stage pipeline.Stage, patientID string) (StageView, error) {
	view := StageView{Stage: stage, ResultKey: stage.ResultKey(patientID)}

	res, err := a.results.Get(ctx, stage, patientID)
	switch {
	case err == nil:
		view.Found = true
		view.Status = res.Status
		view.Result = res
	case errors.Is(err, queue.ErrNotFound):
		view.Status = pipeline.StatusProcessing
	default:
		return view, err
	}

	pos, queued, err := a.inspector.Position(ctx, stage, patientID)
	if err != nil {
		return view, err
	}
	if queued {
		view.InQueue = true
		view.QueuePosition = &pos
	}
	return view, nil
}

func (a *Aggregator) Comprehensive(ctx context.Context, patientID string) (*Report, error) {
	report := &Report{PatientID: patientID, Errors: []StageError{}}
	views := make(map[pipeline.Stage]StageView, len(pipeline.Stages))
	for _, stage := range pipeline.Stages {
		view, err := a.StageStatus(ctx, stage, patientID)
		if err != nil {
			return nil, err
		}
		views[stage] = view
		report.Stages = append(report.Stages, view)
		report.Summary = append(report.Summary, StageSummary{Stage: stage, Status: view.state()})
		if view.Found && view.Result.Status == pipeline.StatusError {
			report.Errors = append(report.Errors, StageError{Stage: stage, Error: view.Result.Error})
		}
	}

	report.OverallStatus, report.CurrentStage = derive(
		views[pipeline.StageOCR], views[pipeline.StageMiner], views[pipeline.StageEM])
	return report, nil
}

func derive(ocr, miner, em StageView) (overall, current string) {
	ocrState, minerState, emState := ocr.state(), miner.state(), em.state()
	pending := func(s string) bool {
		return s == pipeline.StatusNotStarted || s == pipeline.StatusQueued || s == pipeline.StatusProcessing
	}

	if ocrState == pipeline.StatusCompleted && emState == pipeline.StatusCompleted &&
		(minerState == pipeline.StatusCompleted || minerState == pipeline.StatusQueued || minerState == pipeline.StatusNotStarted) {
		return pipeline.StatusCompleted, StageCompleted
	}

	if failed, ok := stalled(ocr, miner, em); ok {
		return pipeline.StatusError, string(failed)
	}

	switch {
	case pending(ocrState):
		return pipeline.StatusProcessing, string(pipeline.StageOCR)
	case pending(minerState):
		return pipeline.StatusProcessing, string(pipeline.StageMiner)
	case emState == pipeline.StatusProcessing || emState == pipeline.StatusQueued:
		return pipeline.StatusProcessing, string(pipeline.StageEM)
	}
	return pipeline.StatusProcessing, string(pipeline.StageEM)
}

// stalled returns the first errored stage when no stage can still make
// progress: nothing is queued and nothing is processing.
func stalled(views ...StageView) (pipeline.Stage, bool) {
	var failed pipeline.Stage
	for _, v := range views {
		if v.InQueue || (v.Found && v.Result.Status == pipeline.StatusProcessing) {
			return "", false
		}
		if failed == "" && v.Found && v.Result.Status == pipeline.StatusError {
			failed = v.Stage
		}
	}
	return failed, failed != ""
}
