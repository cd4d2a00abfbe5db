// Package api is the HTTP surface of the pipeline: task submission, status
// polling, queue inspection and synchronous scoring.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/mdm"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
	"github.com/synaptica-ai/mdm-pipeline/pkg/queue"
	"github.com/synaptica-ai/mdm-pipeline/pkg/stages"
	"github.com/synaptica-ai/mdm-pipeline/pkg/status"
)

// ChartEvaluator scores a chart synchronously; *stages.EMProcessor satisfies it.
type ChartEvaluator interface {
	Evaluate(ctx context.Context, patientID, text string) (*stages.EMResult, error)
}

type Options struct {
	AllowFlush bool
	Engine     *mdm.Engine
	Evaluator  ChartEvaluator
	Fetcher    stages.TextFetcher
}

type HTTPHandler struct {
	store      queue.Store
	enqueuer   *pipeline.Enqueuer
	inspector  *pipeline.Inspector
	aggregator *status.Aggregator
	opts       Options
}

func NewHTTPHandler(store queue.Store, enqueuer *pipeline.Enqueuer, opts Options) *HTTPHandler {
	if opts.Engine == nil {
		opts.Engine = mdm.NewEngine(mdm.DefaultTables())
	}
	return &HTTPHandler{
		store:      store,
		enqueuer:   enqueuer,
		inspector:  pipeline.NewInspector(store),
		aggregator: status.NewAggregator(store),
		opts:       opts,
	}
}

// Register mounts the API routes; router is expected to be the /api/v1 subrouter.
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/ocr/tasks", h.handleSubmit(pipeline.StageOCR)).Methods(http.MethodPost)
	router.HandleFunc("/miner/tasks", h.handleSubmit(pipeline.StageMiner)).Methods(http.MethodPost)
	router.HandleFunc("/em/tasks", h.handleSubmitEM).Methods(http.MethodPost)
	router.HandleFunc("/queues", h.handleQueues).Methods(http.MethodGet)
	router.HandleFunc("/patients/{patientId}/status", h.handlePatientStatus).Methods(http.MethodGet)
	router.HandleFunc("/mdm/score", h.handleScore).Methods(http.MethodPost)
	router.HandleFunc("/mdm/evaluate", h.handleEvaluate).Methods(http.MethodPost)
	router.HandleFunc("/{stage}/status/{patientId}", h.handleStageStatus).Methods(http.MethodGet)
	router.HandleFunc("/{stage}/worker", h.handleWorker).Methods(http.MethodGet)
	router.HandleFunc("/{stage}/flush", h.handleFlush).Methods(http.MethodPost)
}

// RegisterHealth mounts liveness and readiness on the root router.
func (h *HTTPHandler) RegisterHealth(router *mux.Router) {
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
}

type submitResponse struct {
	Status    string         `json:"status"`
	Stage     pipeline.Stage `json:"stage"`
	PatientID string         `json:"patientId"`
	TaskID    string         `json:"taskId"`
}

func (h *HTTPHandler) handleSubmit(stage pipeline.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := pipeline.NewTask(stage)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(task); err != nil {
			logger.Log.WithError(err).WithField("stage", stage).Warn("invalid task payload")
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		h.enqueue(w, r, task)
	}
}

func (h *HTTPHandler) handleSubmitEM(w http.ResponseWriter, r *http.Request) {
	var req emSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid em submission payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	text := req.Text
	if text == "" {
		if h.opts.Fetcher == nil {
			http.Error(w, "document download not configured", http.StatusServiceUnavailable)
			return
		}
		fetched, err := h.opts.Fetcher.FetchText(r.Context(), req.AfterOcrBlobPath)
		if err != nil {
			logger.ForStage(string(pipeline.StageEM), req.PatientID).WithError(err).Error("failed to download document")
			http.Error(w, fmt.Sprintf("failed to download document: %v", err), http.StatusServiceUnavailable)
			return
		}
		text = fetched
	}

	h.enqueue(w, r, &pipeline.EmTask{
		Header: pipeline.Header{
			PatientID:     req.PatientID,
			TraceDTO:      req.TraceDTO,
			ReturnHeaders: req.ReturnHeaders,
		},
		Text:             text,
		AfterOcrBlobPath: req.AfterOcrBlobPath,
		Insurance:        req.Insurance,
	})
}

func (h *HTTPHandler) enqueue(w http.ResponseWriter, r *http.Request, task pipeline.Task) {
	if err := h.enqueuer.Enqueue(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}
	meta := task.Meta()
	writeJSON(w, http.StatusAccepted, submitResponse{
		Status:    pipeline.StatusQueued,
		Stage:     task.Stage(),
		PatientID: meta.PatientID,
		TaskID:    meta.TaskID,
	})
}

// handleStageStatus never fails on a missing result: the view reports
// processing with the queue position instead.
func (h *HTTPHandler) handleStageStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	stage, err := parseStage(vars["stage"])
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.aggregator.StageStatus(r.Context(), stage, vars["patientId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) handlePatientStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.aggregator.Comprehensive(r.Context(), mux.Vars(r)["patientId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type workerResponse struct {
	*pipeline.QueueSnapshot
	RedisConnected bool `json:"redisConnected"`
}

func (h *HTTPHandler) handleWorker(w http.ResponseWriter, r *http.Request) {
	stage, err := parseStage(mux.Vars(r)["stage"])
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.inspector.Snapshot(r.Context(), stage, pipeline.PreviewLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workerResponse{
		QueueSnapshot:  snap,
		RedisConnected: h.store.Ping(r.Context()) == nil,
	})
}

type queuesResponse struct {
	Status           string                                     `json:"status"`
	Timestamp        float64                                    `json:"timestamp"`
	TotalQueueLength int64                                      `json:"totalQueueLength"`
	Queues           map[pipeline.Stage]*pipeline.QueueSnapshot `json:"queues"`
}

func (h *HTTPHandler) handleQueues(w http.ResponseWriter, r *http.Request) {
	resp := queuesResponse{
		Status:    "ok",
		Timestamp: pipeline.EpochSeconds(time.Now()),
		Queues:    make(map[pipeline.Stage]*pipeline.QueueSnapshot, len(pipeline.Stages)),
	}
	for _, stage := range pipeline.Stages {
		snap, err := h.inspector.Snapshot(r.Context(), stage, pipeline.PreviewLimit)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Queues[stage] = snap
		resp.TotalQueueLength += snap.Length
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) handleFlush(w http.ResponseWriter, r *http.Request) {
	stage, err := parseStage(mux.Vars(r)["stage"])
	if err != nil {
		writeError(w, err)
		return
	}
	if !h.opts.AllowFlush {
		http.Error(w, "flush is disabled", http.StatusForbidden)
		return
	}

	n, err := pipeline.FlushStage(r.Context(), h.store, stage)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Log.WithField("stage", stage).WithField("results_deleted", n).Warn("stage flushed over http")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "flushed",
		"stage":       stage,
		"keysDeleted": n,
	})
}

func (h *HTTPHandler) handleScore(w http.ResponseWriter, r *http.Request) {
	var facts mdm.ClinicalFacts
	if err := json.NewDecoder(r.Body).Decode(&facts); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Engine.Score(r.Context(), facts))
}

func (h *HTTPHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Evaluator == nil {
		http.Error(w, "chart evaluation not configured", http.StatusServiceUnavailable)
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.opts.Evaluator.Evaluate(r.Context(), req.PatientID, req.Text)
	if errors.Is(err, stages.ErrNothingExtracted) {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	if IsValidationError(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.Log.WithError(err).Error("request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}
