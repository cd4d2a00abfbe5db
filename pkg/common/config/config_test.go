package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.WorkerPopTimeout)
	assert.Equal(t, 3*time.Second, cfg.OCRBackoff)
	assert.Equal(t, 2*time.Second, cfg.EMBackoff)
	assert.Equal(t, 24*time.Hour, cfg.MinerResultTTL)
	assert.Equal(t, 3, cfg.EgressAttempts)
	assert.False(t, cfg.FlushOCROnStartup)
	assert.False(t, cfg.RemoteScoring())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("FLUSH_EM_ON_STARTUP", "true")
	t.Setenv("WORKER_MAX_ATTEMPTS", "0")
	t.Setenv("SCORING_BACKEND", "REMOTE")
	t.Setenv("RULE_ENGINE_URL", "http://rules:8000/query")
	t.Setenv("EM_RETRY_BACKOFF", "not-a-duration")

	cfg := Load()

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.FlushEMOnStartup)
	assert.Equal(t, 0, cfg.WorkerMaxAttempts)
	assert.True(t, cfg.RemoteScoring())
	assert.Equal(t, 2*time.Second, cfg.EMBackoff)
}
