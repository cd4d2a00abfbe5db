package archive

import (
	"time"

	"gorm.io/datatypes"
)

// Recommendation is one scored chart as published by the EM worker.
type Recommendation struct {
	EventID     string            `json:"event_id" gorm:"primaryKey;column:event_id"`
	PatientID   string            `json:"patient_id" gorm:"column:patient_id;index"`
	TaskID      string            `json:"task_id,omitempty" gorm:"column:task_id"`
	CPTCode     string            `json:"cpt_code" gorm:"column:cpt_code"`
	FinalLevel  string            `json:"final_level" gorm:"column:final_level"`
	PatientType string            `json:"patient_type" gorm:"column:patient_type"`
	Degraded    bool              `json:"degraded" gorm:"column:degraded"`
	Payload     datatypes.JSONMap `json:"payload" gorm:"column:payload"`
	CompletedAt time.Time         `json:"completed_at" gorm:"column:completed_at"`
	CreatedAt   time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (Recommendation) TableName() string {
	return "mdm_recommendations"
}

// DeadLetter is a task that exhausted its attempts in any stage.
type DeadLetter struct {
	EventID   string    `json:"event_id" gorm:"primaryKey;column:event_id"`
	Stage     string    `json:"stage" gorm:"column:stage;index"`
	PatientID string    `json:"patient_id" gorm:"column:patient_id;index"`
	TaskID    string    `json:"task_id,omitempty" gorm:"column:task_id"`
	Attempt   int       `json:"attempt" gorm:"column:attempt"`
	Reason    string    `json:"reason" gorm:"column:reason"`
	Payload   string    `json:"payload" gorm:"column:payload"`
	FailedAt  time.Time `json:"failed_at" gorm:"column:failed_at"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

func (DeadLetter) TableName() string {
	return "pipeline_dead_letters"
}
