package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/mdm-pipeline/pkg/api"
	"github.com/synaptica-ai/mdm-pipeline/pkg/api/middleware"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/config"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/database"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/icd"
	"github.com/synaptica-ai/mdm-pipeline/pkg/inference"
	"github.com/synaptica-ai/mdm-pipeline/pkg/pipeline"
	"github.com/synaptica-ai/mdm-pipeline/pkg/queue"
	"github.com/synaptica-ai/mdm-pipeline/pkg/stages"
)

func main() {
	logger.Init()
	cfg := config.Load()

	rdb, err := database.NewRedis(context.Background(), cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()
	store := queue.NewRedisStore(rdb)

	engine, err := stages.NewEngine(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load scoring tables")
	}

	opts := api.Options{
		AllowFlush: cfg.AllowFlush,
		Engine:     engine,
		Fetcher:    stages.NewPDFFetcher(httpclient.New(cfg.BlobFetchTimeout)),
	}

	// Synchronous chart evaluation needs the model; the catalog stays optional.
	if cfg.LLMBaseURL != "" && cfg.LLMModelName != "" {
		var catalog icd.Catalog
		if db, err := database.NewPostgres(cfg); err != nil {
			logger.Log.WithError(err).Warn("ICD catalog unavailable, using model codes")
		} else {
			defer database.ClosePostgres(db)
			catalog = icd.NewRepository(db)
		}
		llm := inference.NewClient(httpclient.New(cfg.LLMTimeout), cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModelName)
		opts.Evaluator = stages.NewEMProcessor(
			inference.NewExtractor(llm, cfg.LLMTimeout),
			icd.NewCoder(llm, catalog, cfg.LLMTimeout),
			engine,
			cfg.EMSendURL,
		)
	}

	handler := api.NewHTTPHandler(store, pipeline.NewEnqueuer(store, cfg.NotifyDedupWindow), opts)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	handler.RegisterHealth(router)
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":        cfg.ServerHost,
			"port":        cfg.ServerPort,
			"allow_flush": cfg.AllowFlush,
		}).Info("Pipeline API started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Pipeline API...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Pipeline API stopped")
}
