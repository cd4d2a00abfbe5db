package stages

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/config"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/database"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/kafka"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/mdm"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
	"github.com/synaptica-ai/mdm-pipeline/pkg/queue"
)

// WorkerSettings maps process configuration onto one stage's worker
// configuration and reports whether the stage is flushed on startup.
func WorkerSettings(cfg *config.Config, stage pipeline.Stage) (pipeline.WorkerConfig, bool) {
	wc := pipeline.WorkerConfig{
		PopTimeout:  cfg.WorkerPopTimeout,
		MaxAttempts: cfg.WorkerMaxAttempts,
		DedupWindow: cfg.NotifyDedupWindow,
	}
	var flush bool
	switch stage {
	case pipeline.StageOCR:
		wc.Backoff, wc.ResultTTL, flush = cfg.OCRBackoff, cfg.OCRResultTTL, cfg.FlushOCROnStartup
	case pipeline.StageMiner:
		wc.Backoff, wc.ResultTTL, flush = cfg.MinerBackoff, cfg.MinerResultTTL, cfg.FlushMinerOnStartup
	case pipeline.StageEM:
		wc.Backoff, wc.ResultTTL, flush = cfg.EMBackoff, cfg.EMResultTTL, cfg.FlushEMOnStartup
	}
	return wc, flush
}

// EgressPolicy is the retry policy for notifications and collaborator calls.
func EgressPolicy(cfg *config.Config) httpclient.Policy {
	return httpclient.Policy{Attempts: cfg.EgressAttempts, Interval: cfg.EgressInterval}
}

// BackendClient is an egress client that carries client-credentials tokens
// when BACKEND_TOKEN_URL is configured.
func BackendClient(ctx context.Context, cfg *config.Config) *http.Client {
	return httpclient.WithClientCredentials(ctx, httpclient.New(cfg.EgressTimeout), httpclient.CredentialsConfig{
		TokenURL:     cfg.BackendTokenURL,
		ClientID:     cfg.BackendClientID,
		ClientSecret: cfg.BackendClientSecret,
		Scopes:       cfg.BackendScopes,
	})
}

// NewEngine builds the scoring engine from SCORING_TABLES_PATH, consulting the
// rule service first when SCORING_BACKEND=remote. Unreadable tables fall back
// to the defaults.
func NewEngine(cfg *config.Config) (*mdm.Engine, error) {
	tables, err := mdm.LoadTables(cfg.ScoringTablesPath)
	if err != nil {
		if tables.Validate() != nil {
			return nil, err
		}
		logger.Log.WithError(err).WithField("path", cfg.ScoringTablesPath).
			Warn("scoring tables unreadable, using defaults")
	}

	var opts []mdm.Option
	if cfg.RemoteScoring() {
		remote := mdm.NewRemoteEvaluator(httpclient.New(cfg.EgressTimeout), cfg.RuleEngineURL, EgressPolicy(cfg))
		opts = append(opts, mdm.WithEvaluator(remote))
		logger.Log.WithField("url", cfg.RuleEngineURL).Info("remote rule evaluator enabled")
	}
	return mdm.NewEngine(tables, opts...), nil
}

// Runtime holds the connections shared by a stage worker process.
type Runtime struct {
	Config *config.Config
	Redis  *redis.Client
	Store  *queue.RedisStore
	Events *kafka.Producer
	Egress *http.Client
}

func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rdb, err := database.NewRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		Config: cfg,
		Redis:  rdb,
		Store:  queue.NewRedisStore(rdb),
		Egress: BackendClient(ctx, cfg),
	}
	if cfg.EventsEnabled && len(cfg.KafkaBrokers) > 0 {
		rt.Events = kafka.NewProducer(cfg.KafkaBrokers, cfg.PipelineEventsTopic)
	}
	return rt, nil
}

// RunWorker runs the stage's worker until ctx is cancelled.
func (rt *Runtime) RunWorker(ctx context.Context, stage pipeline.Stage, processor pipeline.Processor) error {
	wc, flush := WorkerSettings(rt.Config, stage)
	opts := []pipeline.WorkerOption{
		pipeline.WithNotifier(pipeline.NewHTTPNotifier(rt.Egress, EgressPolicy(rt.Config))),
	}
	if rt.Events != nil {
		opts = append(opts, pipeline.WithEvents(rt.Events))
	}
	worker := pipeline.NewWorker(stage, rt.Store, processor, wc, opts...)

	if flush {
		if err := worker.Flush(ctx); err != nil {
			return fmt.Errorf("flush %s on startup: %w", stage, err)
		}
	}
	return worker.Run(ctx)
}

func (rt *Runtime) Close() {
	if rt.Events != nil {
		if err := rt.Events.Close(); err != nil {
			logger.Log.WithError(err).Warn("failed to close event producer")
		}
	}
	if err := rt.Redis.Close(); err != nil {
		logger.Log.WithError(err).Warn("failed to close redis client")
	}
}
