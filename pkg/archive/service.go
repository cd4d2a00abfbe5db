// Package archive persists scored recommendations and dead-lettered tasks
// from the pipeline event stream into Postgres.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/synaptica-ai/mdm-pipeline/pkg/common/kafka"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/models"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
	"gorm.io/datatypes"
)

// Store is satisfied by Repository.
type Store interface {
	SaveRecommendation(ctx context.Context, rec *Recommendation) error
	SaveDeadLetter(ctx context.Context, dl *DeadLetter) error
}

// EventSource is satisfied by the kafka consumer.
type EventSource interface {
	Consume(ctx context.Context, handler kafka.EventHandler) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// evaluation is the subset of the EM result the archive indexes.
type evaluation struct {
	MedicalEvaluation struct {
		CPTCode     string   `json:"cptCode"`
		FinalLevel  string   `json:"finalLevel"`
		PatientType string   `json:"patientType"`
		Degraded    []string `json:"degraded"`
	} `json:"medicalEvaluation"`
}

// Handle archives em.completed and *.dead_lettered events. Other events are
// acknowledged without side effects.
func (s *Service) Handle(ctx context.Context, event models.Event) error {
	stage, suffix, ok := strings.Cut(event.Type, ".")
	if !ok {
		logger.Log.WithField("event_type", event.Type).Debug("ignoring untyped event")
		return nil
	}

	switch {
	case suffix == models.EventSuffixCompleted && stage == string(pipeline.StageEM):
		rec, err := recommendationFrom(event)
		if err != nil {
			logger.Log.WithError(err).WithField("event_id", event.ID).Warn("skipping malformed em event")
			return nil
		}
		if err := s.store.SaveRecommendation(ctx, rec); err != nil {
			return fmt.Errorf("save recommendation %s: %w", event.ID, err)
		}
		logger.ForStage(stage, rec.PatientID).WithField("cpt_code", rec.CPTCode).Info("recommendation archived")
	case suffix == models.EventSuffixDeadLettered:
		dl := deadLetterFrom(stage, event)
		if err := s.store.SaveDeadLetter(ctx, dl); err != nil {
			return fmt.Errorf("save dead letter %s: %w", event.ID, err)
		}
		logger.ForStage(stage, dl.PatientID).WithField("reason", dl.Reason).Warn("dead letter archived")
	}
	return nil
}

// Run consumes until ctx is cancelled.
func (s *Service) Run(ctx context.Context, source EventSource) error {
	return source.Consume(ctx, s.Handle)
}

func recommendationFrom(event models.Event) (*Recommendation, error) {
	patientID := stringField(event.Data, "patientId")
	if patientID == "" {
		return nil, fmt.Errorf("event has no patientId")
	}
	result, ok := event.Data["result"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("event has no result object")
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var eval evaluation
	if err := json.Unmarshal(raw, &eval); err != nil {
		return nil, fmt.Errorf("decode medical evaluation: %w", err)
	}

	return &Recommendation{
		EventID:     event.ID,
		PatientID:   patientID,
		TaskID:      stringField(event.Data, "taskId"),
		CPTCode:     eval.MedicalEvaluation.CPTCode,
		FinalLevel:  eval.MedicalEvaluation.FinalLevel,
		PatientType: eval.MedicalEvaluation.PatientType,
		Degraded:    len(eval.MedicalEvaluation.Degraded) > 0,
		Payload:     datatypes.JSONMap(result),
		CompletedAt: eventTime(event),
	}, nil
}

func deadLetterFrom(stage string, event models.Event) *DeadLetter {
	attempt, _ := event.Data["attempt"].(float64)
	return &DeadLetter{
		EventID:   event.ID,
		Stage:     stage,
		PatientID: stringField(event.Data, "patientId"),
		TaskID:    stringField(event.Data, "taskId"),
		Attempt:   int(attempt),
		Reason:    stringField(event.Data, "reason"),
		Payload:   stringField(event.Data, "payload"),
		FailedAt:  eventTime(event),
	}
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func eventTime(event models.Event) time.Time {
	if event.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return event.Timestamp.UTC()
}
