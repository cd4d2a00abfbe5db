package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/synaptica-ai/mdm-pipeline/pkg/common/config"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/database"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/icd"
	"github.com/synaptica-ai/mdm-pipeline/pkg/inference"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
	"github.com/synaptica-ai/mdm-pipeline/pkg/stages"
	"gorm.io/gorm"
)

func main() {
	logger.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := stages.NewRuntime(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialise worker runtime")
	}
	defer rt.Close()

	engine, err := stages.NewEngine(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load scoring tables")
	}

	// The ICD catalog is optional: without it the model's codes are used.
	var catalog icd.Catalog
	db, err := database.NewPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("ICD catalog unavailable, using model codes")
	} else {
		defer closeDB(db)
		repo := icd.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate icd tables")
		}
		catalog = repo
	}

	llm := inference.NewClient(httpclient.New(cfg.LLMTimeout), cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModelName)
	processor := stages.NewEMProcessor(
		inference.NewExtractor(llm, cfg.LLMTimeout),
		icd.NewCoder(llm, catalog, cfg.LLMTimeout),
		engine,
		cfg.EMSendURL,
	)

	done := make(chan error, 1)
	go func() {
		done <- rt.RunWorker(ctx, pipeline.StageEM, processor)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Log.Info("Shutting down EM worker...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			logger.Log.WithError(err).Error("EM worker exited")
		}
	}

	logger.Log.Info("EM worker stopped")
}

func closeDB(db *gorm.DB) {
	if err := database.ClosePostgres(db); err != nil {
		logger.Log.WithError(err).Warn("failed to close postgres")
	}
}
