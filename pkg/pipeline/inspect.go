package pipeline

import (
	"context"
	"errors"

	"github.com/synaptica-ai/mdm-pipeline/pkg/queue"
)

const (
	// PositionScanLimit bounds the linear scan used to find a patient's queue position.
	PositionScanLimit = 1000
	// PreviewLimit bounds the items returned in a queue snapshot.
	PreviewLimit = 50
)

// QueueItem summarizes a queued task without exposing tokens or text.
type QueueItem struct {
	Position    int    `json:"position"`
	PatientID   string `json:"patientId"`
	TaskID      string `json:"taskId,omitempty"`
	Attempt     int    `json:"attempt"`
	HasSASToken bool   `json:"hasSasToken,omitempty"`
	HasText     bool   `json:"hasText,omitempty"`
	TextLength  int    `json:"textLength,omitempty"`
	Insurance   string `json:"insurance,omitempty"`
	Error       string `json:"error,omitempty"`
}

// QueueSnapshot is a non-destructive view of one stage.
type QueueSnapshot struct {
	Stage       Stage        `json:"stage"`
	Queue       string       `json:"queue"`
	Length      int64        `json:"length"`
	Items       []QueueItem  `json:"items"`
	LastSuccess *LastSuccess `json:"lastSuccess,omitempty"`
	LastError   *LastError   `json:"lastError,omitempty"`
}

// Inspector peeks at queues. It never pops.
type Inspector struct {
	store   queue.Store
	results *Results
}

func NewInspector(store queue.Store) *Inspector {
	return &Inspector{store: store, results: NewResults(store)}
}

// Position returns the 1-based position of the patient's first queued task,
// scanning at most PositionScanLimit items.
func (i *Inspector) Position(ctx context.Context, stage Stage, patientID string) (int, bool, error) {
	items, err := i.store.Peek(ctx, stage.Queue(), PositionScanLimit)
	if err != nil {
		return 0, false, err
	}
	for idx, raw := range items {
		task, err := DecodeTask(stage, raw)
		if err != nil {
			continue
		}
		if task.Meta().PatientID == patientID {
			return idx + 1, true, nil
		}
	}
	return 0, false, nil
}

// Snapshot returns queue depth, a bounded preview and the stage bookkeeping records.
func (i *Inspector) Snapshot(ctx context.Context, stage Stage, limit int64) (*QueueSnapshot, error) {
	if limit <= 0 || limit > PreviewLimit {
		limit = PreviewLimit
	}

	length, err := i.store.Len(ctx, stage.Queue())
	if err != nil {
		return nil, err
	}
	raws, err := i.store.Peek(ctx, stage.Queue(), limit)
	if err != nil {
		return nil, err
	}

	snap := &QueueSnapshot{
		Stage:  stage,
		Queue:  stage.Queue(),
		Length: length,
		Items:  make([]QueueItem, 0, len(raws)),
	}
	for idx, raw := range raws {
		item := QueueItem{Error: "undecodable task"}
		if task, err := DecodeTask(stage, raw); err == nil {
			item = task.Preview()
		}
		item.Position = idx + 1
		snap.Items = append(snap.Items, item)
	}

	if rec, err := i.results.LastSuccess(ctx, stage); err == nil {
		snap.LastSuccess = rec
	} else if !errors.Is(err, queue.ErrNotFound) {
		return nil, err
	}
	if rec, err := i.results.LastError(ctx, stage); err == nil {
		snap.LastError = rec
	} else if !errors.Is(err, queue.ErrNotFound) {
		return nil, err
	}
	return snap, nil
}
