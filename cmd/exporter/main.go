// Command exporter runs the export worker: it consumes experiment and
// update messages off RabbitMQ, stages each experiment's provenance graph to
// the destination bucket, ensures the data-file transfer, and tracks export
// job completion (spec §4.8).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ebi-ait/ingest-exporter/internal/backoff"
	"github.com/ebi-ait/ingest-exporter/internal/config"
	"github.com/ebi-ait/ingest-exporter/internal/crawler"
	"github.com/ebi-ait/ingest-exporter/internal/destination"
	"github.com/ebi-ait/ingest-exporter/internal/exporter"
	"github.com/ebi-ait/ingest-exporter/internal/exportjob"
	"github.com/ebi-ait/ingest-exporter/internal/ingestapi"
	"github.com/ebi-ait/ingest-exporter/internal/listener"
	"github.com/ebi-ait/ingest-exporter/internal/manifest"
	"github.com/ebi-ait/ingest-exporter/internal/metadata"
	"github.com/ebi-ait/ingest-exporter/internal/schema"
	"github.com/ebi-ait/ingest-exporter/internal/staging"
	"github.com/ebi-ait/ingest-exporter/internal/transfer"
	"github.com/ebi-ait/ingest-exporter/pkg/mid"
)

const (
	experimentQueue = "ingest.exporter.experiment.queue"
	updateQueue     = "ingest.exporter.manifest.queue"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(log); err != nil {
		log.Fatal("exporter: fatal", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Info("exporter: configuration loaded",
		zap.String("ingest_api", cfg.IngestAPIURL), zap.String("gcs_bucket", cfg.GCSDestBucket),
		zap.Int("workers", cfg.WorkerPoolSize), zap.Bool("manifest_disabled", cfg.DisableManifest))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	defer storageClient.Close()

	xferClient, err := transfer.NewGCPClient(ctx)
	if err != nil {
		return err
	}

	ingestClient := ingestapi.NewClient(cfg.IngestAPIURL, cfg.MetadataServiceRateLimitRPS, log)
	metadataSvc := metadata.NewService(ingestClient)
	schemaSvc := schema.NewService(ingestClient, cfg.IngestAPIURL, time.Duration(cfg.SchemaCacheTTLSeconds)*time.Second)
	store := destination.New(storageClient, cfg.GCSDestBucket, cfg.GCSDestPrefix, log)
	orchestrator := transfer.NewOrchestrator(xferClient, cfg.GCPProjectID, cfg.GCSDestBucket, cfg.GCSDestPrefix,
		cfg.TransferSourceAWSAccessKeyID, cfg.TransferSourceAWSSecretAccessKey)
	jobs := exportjob.New(ingestClient, cfg.IngestAPIURL)

	stagingClient, err := staging.NewClientBuilder().
		WithStore(store).
		WithTransfer(orchestrator).
		WithSchema(schemaSvc).
		Build()
	if err != nil {
		return err
	}

	crawl := crawler.New(metadataSvc)

	// transferCfg bounds the owning worker's wait for the transfer job it just
	// created; jobCfg bounds an observer's wait on a peer's transfer plus the
	// export-job's data-transfer-complete flag. Both share pollCfg (1s first
	// step, 30s interval cap, 2h total); the Destination Store polls its own
	// upload marker with separate bounds of its own.
	pollCfg := backoff.Config{Initial: time.Second, MaxInterval: 30 * time.Second, MaxElapsedTime: 2 * time.Hour}

	exp := exporter.New(metadataSvc, crawl, stagingClient, orchestrator, jobs, cfg.GCPProjectID, pollCfg, pollCfg)

	listenerCfg := listener.Config{
		Workers:               cfg.WorkerPoolSize,
		PublishExchange:       cfg.ExperimentExchange,
		ExperimentExportedKey: cfg.ExperimentExportedKey,
		DisableManifest:       cfg.DisableManifest,
		ExportData:            true,
	}

	// A nil *manifest.Generator assigned through an interface parameter would
	// not compare equal to nil, so the two constructions are kept separate
	// rather than passing a possibly-nil typed pointer through.
	var l *listener.Listener
	if cfg.DisableManifest {
		l = listener.New(ch, exp, jobs, metadataSvc, nil, log, listenerCfg)
	} else {
		manifestGen := manifest.New(metadataSvc, crawl, ingestClient)
		l = listener.New(ch, exp, jobs, metadataSvc, manifestGen, log, listenerCfg)
	}

	errs := make(chan error, 2)
	go func() {
		log.Info("exporter: consuming experiment queue", zap.String("queue", experimentQueue))
		errs <- l.ConsumeExperiments(ctx, experimentQueue)
	}()
	if !cfg.DisableManifest {
		go func() {
			log.Info("exporter: consuming update queue", zap.String("queue", updateQueue))
			errs <- l.ConsumeUpdates(ctx, updateQueue)
		}()
	}

	srv := newHealthServer(cfg.HealthPort, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("exporter: health server stopped", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("exporter: shutdown signal received")
	case err := <-errs:
		if err != nil {
			log.Error("exporter: consumer stopped with error", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHealthServer exposes liveness and Prometheus scrape endpoints, separate
// from the AMQP consumers so orchestrators can probe the process without
// depending on broker connectivity.
func newHealthServer(port int, log *zap.Logger) *http.Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	handler := mid.Chain(r, mid.Recover(log), mid.Logger(log), mid.OTel("ingest-exporter"))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
}
