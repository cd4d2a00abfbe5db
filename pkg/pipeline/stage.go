// Package pipeline moves documents through the OCR, miner and EM stages. Each
// stage owns a queue, a per-patient result keyspace and two bookkeeping records.
package pipeline

import (
	"fmt"
	"strings"
)

type Stage string

const (
	StageOCR   Stage = "ocr"
	StageMiner Stage = "miner"
	StageEM    Stage = "em"
)

// Stages lists the stages in pipeline order.
var Stages = []Stage{StageOCR, StageMiner, StageEM}

// UnknownPatient tags errors that cannot be attributed to one task.
const UnknownPatient = "N/A"

func ParseStage(s string) (Stage, bool) {
	stage := Stage(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Stages {
		if stage == known {
			return stage, true
		}
	}
	return "", false
}

func (s Stage) Queue() string { return string(s) + "_queue" }

func (s Stage) ResultPrefix() string { return string(s) + "_result:" }

func (s Stage) ResultKey(patientID string) string { return s.ResultPrefix() + patientID }

func (s Stage) LastSuccessKey() string { return strings.ToUpper(string(s)) + "_LAST_SUCCESS" }

func (s Stage) LastErrorKey() string { return strings.ToUpper(string(s)) + "_LAST_ERROR" }

func (s Stage) DeadLetterQueue() string { return string(s) + "_dead_letter" }

func (s Stage) notifiedKey(patientID, fingerprint string) string {
	return fmt.Sprintf("%s_notified:%s:%s", s, patientID, fingerprint)
}

func (s Stage) enqueuedKey(patientID, fingerprint string) string {
	return fmt.Sprintf("%s_enqueued:%s:%s", s, patientID, fingerprint)
}

func (s Stage) notifiedPrefix() string { return string(s) + "_notified:" }

func (s Stage) enqueuedPrefix() string { return string(s) + "_enqueued:" }
