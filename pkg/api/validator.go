package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
)

var (
	errMissingText    = errors.New("text or afterOcrBlobPath required")
	errUnknownStage   = errors.New("unknown stage")
	errMissingPatient = errors.New("patientId required")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) || errors.Is(err, pipeline.ErrInvalidTask)
}

func parseStage(raw string) (pipeline.Stage, error) {
	stage, ok := pipeline.ParseStage(raw)
	if !ok {
		return "", ValidationError{reason: fmt.Errorf("%w: %q", errUnknownStage, raw)}
	}
	return stage, nil
}

// emSubmission is the body of POST /em/tasks. Text may be given inline or
// downloaded from AfterOcrBlobPath.
type emSubmission struct {
	PatientID        string                 `json:"patientId"`
	Text             string                 `json:"text"`
	AfterOcrBlobPath string                 `json:"afterOcrBlobPath"`
	Insurance        string                 `json:"insurance"`
	TraceDTO         map[string]interface{} `json:"traceDto"`
	ReturnHeaders    map[string]string      `json:"returnHeaders"`
}

func (s emSubmission) validate() error {
	if strings.TrimSpace(s.PatientID) == "" {
		return ValidationError{reason: errMissingPatient}
	}
	if strings.TrimSpace(s.Text) == "" && strings.TrimSpace(s.AfterOcrBlobPath) == "" {
		return ValidationError{reason: errMissingText}
	}
	return nil
}

type evaluateRequest struct {
	PatientID string `json:"patientId"`
	Text      string `json:"text"`
}

func (r evaluateRequest) validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ValidationError{reason: errors.New("text required")}
	}
	return nil
}
