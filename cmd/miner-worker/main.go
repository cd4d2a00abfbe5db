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

	processor := stages.NewMinerProcessor(
		httpclient.New(cfg.OCREngineTimeout),
		stages.MinerConfig{
			EngineURL: cfg.MinerEngineURL,
			DemoURL:   cfg.DemoURL,
			StatusURL: cfg.MinerStatusURL,
			Policy:    httpclient.Policy{Attempts: 1},
		},
		stages.NewPDFFetcher(httpclient.New(cfg.BlobFetchTimeout)),
		pipeline.NewEnqueuer(rt.Store, cfg.NotifyDedupWindow),
	)

	done := make(chan error, 1)
	go func() {
		done <- rt.RunWorker(ctx, pipeline.StageMiner, processor)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Log.Info("Shutting down miner worker...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			logger.Log.WithError(err).Error("miner worker exited")
		}
	}

	logger.Log.Info("Miner worker stopped")
}
