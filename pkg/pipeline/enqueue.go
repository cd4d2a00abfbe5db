package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/queue"
)

// Enqueuer submits validated tasks to their stage queue.
type Enqueuer struct {
	store       queue.Store
	dedupWindow time.Duration
}

func NewEnqueuer(store queue.Store, dedupWindow time.Duration) *Enqueuer {
	return &Enqueuer{store: store, dedupWindow: dedupWindow}
}

// Enqueue validates task, assigns a task ID when missing and appends it to
// the tail of its stage queue.
func (e *Enqueuer) Enqueue(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	meta := task.Meta()
	if meta.TaskID == "" {
		meta.TaskID = uuid.New().String()
	}

	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode %s task: %w", task.Stage(), err)
	}
	if err := e.store.Push(ctx, task.Stage().Queue(), raw); err != nil {
		return err
	}

	logger.ForStage(string(task.Stage()), meta.PatientID).
		WithField("task_id", meta.TaskID).
		Info("task enqueued")
	return nil
}

// EnqueueOnce enqueues task unless an identical task for the same patient was
// enqueued within the dedup window. It reports whether the task was pushed.
func (e *Enqueuer) EnqueueOnce(ctx context.Context, task Task) (bool, error) {
	if err := task.Validate(); err != nil {
		return false, err
	}
	fp, err := Fingerprint(task)
	if err != nil {
		return false, fmt.Errorf("fingerprint %s task: %w", task.Stage(), err)
	}

	key := task.Stage().enqueuedKey(task.Meta().PatientID, fp)
	first, err := e.store.SetNX(ctx, key, []byte("1"), e.dedupWindow)
	if err != nil {
		return false, err
	}
	if !first {
		logger.ForStage(string(task.Stage()), task.Meta().PatientID).
			Info("duplicate task suppressed")
		return false, nil
	}

	if err := e.Enqueue(ctx, task); err != nil {
		if _, delErr := e.store.Delete(ctx, key); delErr != nil {
			logger.Log.WithError(delErr).Warn("failed to release enqueue marker")
		}
		return false, err
	}
	return true, nil
}
