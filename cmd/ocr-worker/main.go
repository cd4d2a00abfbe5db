package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/synaptica-ai/mdm-pipeline/pkg/common/config"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
	"github.com/synaptica-ai/mdm-pipeline/pkg/stages"
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

	if cfg.OCREngineURL == "" {
		logger.Log.Warn("OCR_URL not set, every task will fail until configured")
	}
	processor := stages.NewOCRProcessor(
		httpclient.New(cfg.OCREngineTimeout),
		cfg.OCREngineURL,
		cfg.OCRBackendURL,
		stages.EgressPolicy(cfg),
	)

	done := make(chan error, 1)
	go func() {
		done <- rt.RunWorker(ctx, pipeline.StageOCR, processor)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Log.Info("Shutting down OCR worker...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			logger.Log.WithError(err).Error("OCR worker exited")
		}
	}

	logger.Log.Info("OCR worker stopped")
}
