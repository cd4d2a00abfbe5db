package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTask = errors.New("invalid task")

// Header is shared by every task variant. PatientID correlates a document
// across stages; TaskID and Attempt are assigned by the pipeline.
type Header struct {
	PatientID     string                 `json:"patientId"`
	TaskID        string                 `json:"taskId,omitempty"`
	Attempt       int                    `json:"attempt,omitempty"`
	TraceDTO      map[string]interface{} `json:"traceDto,omitempty"`
	ReturnHeaders map[string]string      `json:"returnHeaders,omitempty"`
}

func (h *Header) Meta() *Header { return h }

func (h *Header) validate() error {
	if strings.TrimSpace(h.PatientID) == "" {
		return fmt.Errorf("%w: patientId required", ErrInvalidTask)
	}
	return nil
}

// Task is one unit of work for a stage.
type Task interface {
	Stage() Stage
	Meta() *Header
	Validate() error
	Preview() QueueItem
}

// BlobLocation addresses a document in blob storage.
type BlobLocation struct {
	SASToken         string `json:"sasToken,omitempty"`
	BlobSASToken     string `json:"blobSasToken,omitempty"`
	AfterOcrBlobPath string `json:"afterOcrBlobPath,omitempty"`
	ConnectionString string `json:"connectionString,omitempty"`
}

func (b BlobLocation) hasToken() bool {
	return b.SASToken != "" || b.BlobSASToken != ""
}

type OcrTask struct {
	Header
	BlobLocation
}

func (t *OcrTask) Stage() Stage { return StageOCR }

func (t *OcrTask) Validate() error {
	if err := t.Header.validate(); err != nil {
		return err
	}
	if !t.hasToken() {
		return fmt.Errorf("%w: sasToken or blobSasToken required", ErrInvalidTask)
	}
	return nil
}

func (t *OcrTask) Preview() QueueItem {
	return QueueItem{
		PatientID:   t.PatientID,
		TaskID:      t.TaskID,
		Attempt:     t.Attempt,
		HasSASToken: t.hasToken(),
	}
}

type MinerTask struct {
	Header
	BlobLocation
	Insurance string `json:"insurance,omitempty"`
}

func (t *MinerTask) Stage() Stage { return StageMiner }

func (t *MinerTask) Validate() error {
	if err := t.Header.validate(); err != nil {
		return err
	}
	if !t.hasToken() {
		return fmt.Errorf("%w: sasToken or blobSasToken required", ErrInvalidTask)
	}
	return nil
}

func (t *MinerTask) Preview() QueueItem {
	return QueueItem{
		PatientID:   t.PatientID,
		TaskID:      t.TaskID,
		Attempt:     t.Attempt,
		HasSASToken: t.hasToken(),
		Insurance:   t.Insurance,
	}
}

type EmTask struct {
	Header
	Text             string `json:"text"`
	AfterOcrBlobPath string `json:"afterOcrBlobPath,omitempty"`
	Insurance        string `json:"insurance,omitempty"`
}

func (t *EmTask) Stage() Stage { return StageEM }

func (t *EmTask) Validate() error {
	if err := t.Header.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: text required", ErrInvalidTask)
	}
	return nil
}

func (t *EmTask) Preview() QueueItem {
	return QueueItem{
		PatientID:  t.PatientID,
		TaskID:     t.TaskID,
		Attempt:    t.Attempt,
		HasText:    t.Text != "",
		TextLength: len(t.Text),
		Insurance:  t.Insurance,
	}
}

// NewTask returns an empty task of the stage's variant.
func NewTask(stage Stage) (Task, error) {
	switch stage {
	case StageOCR:
		return &OcrTask{}, nil
	case StageMiner:
		return &MinerTask{}, nil
	case StageEM:
		return &EmTask{}, nil
	}
	return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidTask, stage)
}

// DecodeTask parses a queued payload as the stage's variant. It does not validate.
func DecodeTask(stage Stage, raw []byte) (Task, error) {
	task, err := NewTask(stage)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, task); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return task, nil
}

// Fingerprint hashes a task's content, ignoring the pipeline-assigned
// TaskID and Attempt, so identical submissions hash alike.
func Fingerprint(task Task) (string, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", err
	}
	delete(fields, "taskId")
	delete(fields, "attempt")
	return hashValue(fields)
}

// hashValue hashes v's JSON form. encoding/json sorts map keys, so equal
// maps hash equally.
func hashValue(v interface{}) (string, error) {
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:16]), nil
}
