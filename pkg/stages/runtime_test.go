package stages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/config"
	"github.com/synaptica-ai/mdm-pipeline/pkg/mdm"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
)

func TestWorkerSettingsPerStage(t *testing.T) {
	t.Setenv("FLUSH_MINER_ON_STARTUP", "true")
	cfg := config.Load()

	ocr, flushOCR := WorkerSettings(cfg, pipeline.StageOCR)
	assert.Equal(t, 3*time.Second, ocr.Backoff)
	assert.Equal(t, time.Duration(0), ocr.ResultTTL)
	assert.False(t, flushOCR)

	miner, flushMiner := WorkerSettings(cfg, pipeline.StageMiner)
	assert.Equal(t, 24*time.Hour, miner.ResultTTL)
	assert.True(t, flushMiner)

	em, _ := WorkerSettings(cfg, pipeline.StageEM)
	assert.Equal(t, 2*time.Second, em.Backoff)
	assert.Equal(t, 5, em.MaxAttempts)
	assert.Equal(t, 5*time.Second, em.PopTimeout)
}

func TestBackendClientWithoutCredentials(t *testing.T) {
	cfg := config.Load()
	client := BackendClient(context.Background(), cfg)
	assert.Equal(t, cfg.EgressTimeout, client.Timeout)
	assert.Equal(t, 3, EgressPolicy(cfg).Attempts)
}

func TestNewEngineFallsBackToDefaultTables(t *testing.T) {
	t.Setenv("SCORING_TABLES_PATH", "/nonexistent/tables.yaml")
	engine, err := NewEngine(config.Load())
	assert.NoError(t, err)
	assert.Equal(t, "99213", engine.Tables().LookupCPT(mdm.Low, mdm.PatientEstablished))
}
