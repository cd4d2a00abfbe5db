package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/synaptica-ai/mdm-pipeline/pkg/archive"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/config"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/database"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/kafka"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.NewPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	repo := archive.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate archive tables")
	}

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.PipelineEventsTopic, cfg.KafkaGroupID+"-archive")
	defer consumer.Close()

	svc := archive.NewService(repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"topic": cfg.PipelineEventsTopic,
			"group": cfg.KafkaGroupID + "-archive",
		}).Info("Archive Service started")
		done <- svc.Run(ctx, consumer)
	}()

	go func() {
		ticker := time.NewTicker(12 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := repo.CleanupExpired(ctx, cfg.ArchiveRetention); err != nil {
					logger.Log.WithError(err).Warn("cleanup job failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Log.Info("Shutting down Archive Service...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			logger.Log.WithError(err).Error("event consumer exited")
		}
	}

	logger.Log.Info("Archive Service stopped")
}
