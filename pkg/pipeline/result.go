package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/synaptica-ai/mdm-pipeline/pkg/queue"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusNotStarted = "not_started"
)

// Result is a stage's per-patient record. Only that stage's worker writes it;
// the last write wins.
type Result struct {
	Status      string          `json:"status"`
	PatientID   string          `json:"patientId"`
	Result      json.RawMessage `json:"result,omitempty"`
	CompletedAt float64         `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	TaskID      string          `json:"taskId,omitempty"`
	Attempt     int             `json:"attempt,omitempty"`
}

// LastSuccess is the stage's most recent successful outcome.
type LastSuccess struct {
	PatientID string  `json:"patientId"`
	Timestamp float64 `json:"timestamp"`
	ResultKey string  `json:"resultKey"`
}

// LastError is the stage's most recent failure.
type LastError struct {
	PatientID string  `json:"patientId"`
	Timestamp float64 `json:"timestamp"`
	Error     string  `json:"error"`
}

// DeadLetter is a task that will not be retried.
type DeadLetter struct {
	Stage     Stage   `json:"stage"`
	PatientID string  `json:"patientId"`
	TaskID    string  `json:"taskId,omitempty"`
	Attempt   int     `json:"attempt"`
	Reason    string  `json:"reason"`
	FailedAt  float64 `json:"failedAt"`
	Payload   string  `json:"payload"`
}

// EpochSeconds renders t the way result timestamps are stored.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Results reads and writes stage records.
type Results struct {
	store queue.Store
}

func NewResults(store queue.Store) *Results {
	return &Results{store: store}
}

// Get returns queue.ErrNotFound when the patient has no result for stage.
func (r *Results) Get(ctx context.Context, stage Stage, patientID string) (*Result, error) {
	var res Result
	if err := r.getJSON(ctx, stage.ResultKey(patientID), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *Results) Put(ctx context.Context, stage Stage, res Result, ttl time.Duration) error {
	return r.setJSON(ctx, stage.ResultKey(res.PatientID), res, ttl)
}

func (r *Results) LastSuccess(ctx context.Context, stage Stage) (*LastSuccess, error) {
	var rec LastSuccess
	if err := r.getJSON(ctx, stage.LastSuccessKey(), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Results) LastError(ctx context.Context, stage Stage) (*LastError, error) {
	var rec LastError
	if err := r.getJSON(ctx, stage.LastErrorKey(), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Results) recordSuccess(ctx context.Context, stage Stage, rec LastSuccess) error {
	return r.setJSON(ctx, stage.LastSuccessKey(), rec, 0)
}

func (r *Results) recordError(ctx context.Context, stage Stage, rec LastError) error {
	return r.setJSON(ctx, stage.LastErrorKey(), rec, 0)
}

func (r *Results) getJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *Results) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.store.Set(ctx, key, raw, ttl)
}
