package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/models"
	"github.com/synaptica-ai/mdm-pipeline/pkg/queue"
)

// Outcome is what a processor hands back for a successful task.
type Outcome struct {
	// Status defaults to StatusCompleted.
	Status  string
	Payload interface{}
	// Notify is delivered in order once the result is persisted.
	Notify []Notification
}

type Processor interface {
	Process(ctx context.Context, task Task) (*Outcome, error)
}

type ProcessorFunc func(ctx context.Context, task Task) (*Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, task Task) (*Outcome, error) {
	return f(ctx, task)
}

// EventPublisher is satisfied by the kafka producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type WorkerConfig struct {
	PopTimeout time.Duration
	Backoff    time.Duration
	// MaxAttempts is the failure count at which a task is dead-lettered; 0 retries forever.
	MaxAttempts int
	ResultTTL   time.Duration
	// DedupWindow is how long a delivered notification suppresses an identical one.
	DedupWindow time.Duration
}

type WorkerOption func(*Worker)

func WithNotifier(n Notifier) WorkerOption {
	return func(w *Worker) { w.notifier = n }
}

func WithEvents(p EventPublisher) WorkerOption {
	return func(w *Worker) { w.events = p }
}

// Worker is the single consumer of one stage queue.
type Worker struct {
	stage     Stage
	store     queue.Store
	results   *Results
	processor Processor
	notifier  Notifier
	events    EventPublisher
	cfg       WorkerConfig
	now       func() time.Time
	log       *logrus.Entry
}

func NewWorker(stage Stage, store queue.Store, processor Processor, cfg WorkerConfig, opts ...WorkerOption) *Worker {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	w := &Worker{
		stage:     stage,
		store:     store,
		results:   NewResults(store),
		processor: processor,
		cfg:       cfg,
		now:       time.Now,
		log: logger.WithFields(logrus.Fields{
			"stage": string(stage),
			"queue": stage.Queue(),
		}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes the stage queue until ctx is cancelled. A failure in the loop
// itself is recorded against UnknownPatient and the loop carries on.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopped")
			return nil
		}
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.WithError(err).Error("worker loop error")
			w.recordError(context.WithoutCancel(ctx), UnknownPatient, err)
			w.pause(ctx)
		}
	}
}

// RunOnce pops and handles at most one task. It reports whether a task was
// popped. A popped task runs to completion even if ctx is cancelled meanwhile.
func (w *Worker) RunOnce(ctx context.Context) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	raw, err := w.store.Pop(ctx, w.stage.Queue(), w.cfg.PopTimeout)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if failed := w.handle(context.WithoutCancel(ctx), raw); failed {
		w.pause(ctx)
	}
	return true, nil
}

// Flush removes the stage queue and every result of the stage.
func (w *Worker) Flush(ctx context.Context) error {
	n, err := FlushStage(ctx, w.store, w.stage)
	if err != nil {
		return err
	}
	w.log.WithField("results_deleted", n).Warn("stage flushed")
	return nil
}

// FlushStage deletes the stage queue, its results and its enqueue and
// notification markers, and reports how many results were removed.
// Bookkeeping records and dead letters are kept.
func FlushStage(ctx context.Context, store queue.Store, stage Stage) (int64, error) {
	if _, err := store.Delete(ctx, stage.Queue()); err != nil {
		return 0, err
	}
	for _, prefix := range []string{stage.enqueuedPrefix(), stage.notifiedPrefix()} {
		if _, err := store.DeletePrefix(ctx, prefix); err != nil {
			return 0, err
		}
	}
	return store.DeletePrefix(ctx, stage.ResultPrefix())
}

// handle reports whether the task failed and should be followed by backoff.
func (w *Worker) handle(ctx context.Context, raw []byte) bool {
	task, err := DecodeTask(w.stage, raw)
	if err == nil {
		err = task.Validate()
	}
	if err != nil {
		patientID := UnknownPatient
		if task != nil && task.Meta().PatientID != "" {
			patientID = task.Meta().PatientID
		}
		w.log.WithError(err).WithField("patient_id", patientID).Error("dropping undecodable task")
		w.recordError(ctx, patientID, err)
		w.deadLetter(ctx, DeadLetter{PatientID: patientID, Reason: err.Error(), Payload: string(raw)})
		return false
	}

	meta := task.Meta()
	log := w.log.WithFields(logrus.Fields{
		"patient_id": meta.PatientID,
		"task_id":    meta.TaskID,
		"attempt":    meta.Attempt,
	})
	log.Info("processing task")

	outcome, err := w.process(ctx, task)
	if err != nil {
		log.WithError(err).Error("task failed")
		w.fail(ctx, task, err)
		return true
	}

	if err := w.succeed(ctx, task, outcome); err != nil {
		log.WithError(err).Error("failed to persist result")
		w.fail(ctx, task, err)
		return true
	}
	log.Info("task completed")
	return false
}

func (w *Worker) process(ctx context.Context, task Task) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	out, err = w.processor.Process(ctx, task)
	if err == nil && out == nil {
		out = &Outcome{}
	}
	return out, err
}

func (w *Worker) succeed(ctx context.Context, task Task, outcome *Outcome) error {
	meta := task.Meta()
	status := outcome.Status
	if status == "" {
		status = StatusCompleted
	}

	var payload json.RawMessage
	if outcome.Payload != nil {
		raw, err := json.Marshal(outcome.Payload)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		payload = raw
	}

	now := w.now()
	res := Result{
		Status:      status,
		PatientID:   meta.PatientID,
		Result:      payload,
		CompletedAt: EpochSeconds(now),
		TaskID:      meta.TaskID,
		Attempt:     meta.Attempt,
	}
	if err := w.results.Put(ctx, w.stage, res, w.cfg.ResultTTL); err != nil {
		return err
	}

	if err := w.results.recordSuccess(ctx, w.stage, LastSuccess{
		PatientID: meta.PatientID,
		Timestamp: EpochSeconds(now),
		ResultKey: w.stage.ResultKey(meta.PatientID),
	}); err != nil {
		w.log.WithError(err).Warn("failed to record last success")
	}

	w.publish(ctx, models.EventSuffixCompleted, map[string]interface{}{
		"patientId": meta.PatientID,
		"taskId":    meta.TaskID,
		"status":    status,
		"resultKey": w.stage.ResultKey(meta.PatientID),
		"result":    payload,
	})

	for _, note := range outcome.Notify {
		w.deliver(ctx, meta, note)
	}
	return nil
}

// deliver sends a notification at most once per (patient, url, payload). A failed
// delivery is logged and recorded but never unwinds the persisted result.
func (w *Worker) deliver(ctx context.Context, meta *Header, note Notification) {
	log := w.log.WithFields(logrus.Fields{"patient_id": meta.PatientID, "url": note.URL})
	if w.notifier == nil {
		log.Warn("no notifier configured, skipping notification")
		return
	}

	var key string
	if fp, err := hashValue(map[string]interface{}{"url": note.URL, "payload": note.Payload}); err != nil {
		log.WithError(err).Warn("cannot fingerprint notification, delivering without dedup")
	} else {
		key = w.stage.notifiedKey(meta.PatientID, fp)
		first, err := w.store.SetNX(ctx, key, []byte(meta.TaskID), w.cfg.DedupWindow)
		switch {
		case err != nil:
			log.WithError(err).Warn("dedup check failed, delivering anyway")
			key = ""
		case !first:
			log.Info("identical notification already delivered")
			return
		}
	}

	if err := w.notifier.Notify(ctx, note); err != nil {
		log.WithError(err).Error("notification failed")
		w.recordError(ctx, meta.PatientID, fmt.Errorf("notify %s: %w", note.URL, err))
		if key != "" {
			if _, delErr := w.store.Delete(ctx, key); delErr != nil {
				log.WithError(delErr).Warn("failed to release notification marker")
			}
		}
		return
	}
	log.Info("notification delivered")
}

func (w *Worker) fail(ctx context.Context, task Task, cause error) {
	meta := task.Meta()
	w.recordError(ctx, meta.PatientID, cause)
	meta.Attempt++

	if w.cfg.MaxAttempts > 0 && meta.Attempt >= w.cfg.MaxAttempts {
		raw, _ := json.Marshal(task)
		w.deadLetter(ctx, DeadLetter{
			PatientID: meta.PatientID,
			TaskID:    meta.TaskID,
			Attempt:   meta.Attempt,
			Reason:    cause.Error(),
			Payload:   string(raw),
		})
		w.releaseEnqueued(ctx, task)
		res := Result{
			Status:      StatusError,
			PatientID:   meta.PatientID,
			CompletedAt: EpochSeconds(w.now()),
			Error:       cause.Error(),
			TaskID:      meta.TaskID,
			Attempt:     meta.Attempt,
		}
		if err := w.results.Put(ctx, w.stage, res, w.cfg.ResultTTL); err != nil {
			w.log.WithError(err).Error("failed to persist error result")
		}
		return
	}

	raw, err := json.Marshal(task)
	if err == nil {
		err = w.store.Push(ctx, w.stage.Queue(), raw)
	}
	if err != nil {
		w.log.WithError(err).WithField("patient_id", meta.PatientID).Error("failed to requeue task")
		return
	}

	w.publish(ctx, models.EventSuffixFailed, map[string]interface{}{
		"patientId": meta.PatientID,
		"taskId":    meta.TaskID,
		"attempt":   meta.Attempt,
		"error":     cause.Error(),
	})
	w.log.WithFields(logrus.Fields{
		"patient_id": meta.PatientID,
		"attempt":    meta.Attempt,
	}).Warn("task requeued")
}

func (w *Worker) deadLetter(ctx context.Context, dl DeadLetter) {
	dl.Stage = w.stage
	dl.FailedAt = EpochSeconds(w.now())

	raw, err := json.Marshal(dl)
	if err == nil {
		err = w.store.Push(ctx, w.stage.DeadLetterQueue(), raw)
	}
	if err != nil {
		w.log.WithError(err).WithField("patient_id", dl.PatientID).Error("failed to dead-letter task")
		return
	}

	w.publish(ctx, models.EventSuffixDeadLettered, map[string]interface{}{
		"patientId": dl.PatientID,
		"taskId":    dl.TaskID,
		"attempt":   dl.Attempt,
		"reason":    dl.Reason,
		"payload":   dl.Payload,
	})
	w.log.WithFields(logrus.Fields{
		"patient_id": dl.PatientID,
		"attempt":    dl.Attempt,
	}).Error("task dead-lettered")
}

// releaseEnqueued drops the task's dedup marker so the same content can be
// submitted again once it has been dead-lettered.
func (w *Worker) releaseEnqueued(ctx context.Context, task Task) {
	fp, err := Fingerprint(task)
	if err != nil {
		return
	}
	if _, err := w.store.Delete(ctx, w.stage.enqueuedKey(task.Meta().PatientID, fp)); err != nil {
		w.log.WithError(err).Warn("failed to release enqueue marker")
	}
}

func (w *Worker) recordError(ctx context.Context, patientID string, cause error) {
	if err := w.results.recordError(ctx, w.stage, LastError{
		PatientID: patientID,
		Timestamp: EpochSeconds(w.now()),
		Error:     cause.Error(),
	}); err != nil {
		w.log.WithError(err).Warn("failed to record last error")
	}
}

func (w *Worker) publish(ctx context.Context, suffix string, data map[string]interface{}) {
	if w.events == nil {
		return
	}
	eventType := models.EventType(string(w.stage), suffix)
	if err := w.events.PublishEvent(ctx, eventType, string(w.stage)+"-worker", data); err != nil {
		w.log.WithError(err).WithField("event_type", eventType).Warn("failed to publish pipeline event")
	}
}

func (w *Worker) pause(ctx context.Context) {
	if w.cfg.Backoff <= 0 {
		return
	}
	select {
	case <-time.After(w.cfg.Backoff):
	case <-ctx.Done():
	}
}
