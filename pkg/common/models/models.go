package models

import "time"

// Event is the envelope published on the pipeline events topic.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // <stage>.completed, <stage>.failed, <stage>.dead_lettered
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventSuffixCompleted    = "completed"
	EventSuffixFailed       = "failed"
	EventSuffixDeadLettered = "dead_lettered"
)

// EventType joins a stage name and an outcome suffix, e.g. "em.completed".
func EventType(stage, suffix string) string {
	return stage + "." + suffix
}
