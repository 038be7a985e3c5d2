// Package listener is the AMQP consumer: it consumes from a channel the
// caller opens, dispatches each message to a bounded worker pool, drives the
// Exporter (or the manifest Generator), records assay completion, and
// reports per-message failures as submission errors rather than requeuing
// (spec §4.8, §7).
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ebi-ait/ingest-exporter/internal/amqputil"
	"github.com/ebi-ait/ingest-exporter/internal/exporter"
	"github.com/ebi-ait/ingest-exporter/internal/exportjob"
	"github.com/ebi-ait/ingest-exporter/internal/manifest"
	"github.com/ebi-ait/ingest-exporter/internal/metadata"
)

// ExperimentMessage is the experiment-submitted payload (spec §6).
type ExperimentMessage struct {
	ProcessID         string `json:"documentId"`
	ProcessUUID       string `json:"documentUuid"`
	SubmissionUUID    string `json:"envelopeUuid"`
	ExperimentUUID    string `json:"bundleUuid"`
	ExperimentVersion string `json:"versionTimestamp"`
	Index             int    `json:"index"`
	Total             int    `json:"total"`
	JobID             string `json:"exportJobId"`
}

// ParseExperimentMessage decodes and validates data as an ExperimentMessage.
// Every field the source treats as a required dict key (spec §4.8 step 1)
// must be present and non-empty; Go's json.Unmarshal silently zero-fills
// missing keys, so that check has to happen explicitly here rather than
// falling out of decoding the way Python's dict indexing does.
func ParseExperimentMessage(data []byte) (ExperimentMessage, error) {
	var m ExperimentMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ExperimentMessage{}, &ParseError{Reason: err.Error()}
	}
	if err := validateExperimentMessage(m); err != nil {
		return ExperimentMessage{}, err
	}
	return m, nil
}

func validateExperimentMessage(m ExperimentMessage) error {
	required := map[string]string{
		"documentId": m.ProcessID, "documentUuid": m.ProcessUUID,
		"envelopeUuid": m.SubmissionUUID, "bundleUuid": m.ExperimentUUID,
		"versionTimestamp": m.ExperimentVersion, "exportJobId": m.JobID,
	}
	for field, v := range required {
		if v == "" {
			return &ParseError{Reason: fmt.Sprintf("missing %s", field)}
		}
	}
	return nil
}

// SimpleUpdateMessage is the manifest-path payload (spec §6).
type SimpleUpdateMessage struct {
	CallbackLinks []string `json:"callbackLinks"`
	EnvelopeUUID  string   `json:"envelopeUuid"`
	Index         int      `json:"index"`
	Total         int      `json:"total"`
}

// ParseSimpleUpdateMessage decodes and validates data as a SimpleUpdateMessage.
func ParseSimpleUpdateMessage(data []byte) (SimpleUpdateMessage, error) {
	var m SimpleUpdateMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SimpleUpdateMessage{}, &ParseError{Reason: err.Error()}
	}
	if err := validateSimpleUpdateMessage(m); err != nil {
		return SimpleUpdateMessage{}, err
	}
	return m, nil
}

func validateSimpleUpdateMessage(m SimpleUpdateMessage) error {
	if m.EnvelopeUUID == "" {
		return &ParseError{Reason: "missing envelopeUuid"}
	}
	return nil
}

// ParseError reports that a message body could not be parsed into its
// expected shape (spec §7's MessageParseError).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("listener: parse message: %s", e.Reason) }

// exportAPI is the slice of exporter.Exporter the Listener depends on.
type exportAPI interface {
	Export(ctx context.Context, processUUID, submissionUUID, experimentUUID, experimentVersion, jobID string, opts exporter.Options) error
}

// jobCoordinator is the slice of exportjob.Coordinator the Listener depends
// on to record and finalize assay completion.
type jobCoordinator interface {
	RecordAssay(ctx context.Context, jobID, assayProcessID string, errs ...exportjob.Error) error
	MaybeFinalize(ctx context.Context, jobID string) (bool, error)
}

// errorReporter is the slice of metadata.Service the Listener depends on to
// report a failed export as a submission-level error.
type errorReporter interface {
	CreateSubmissionError(ctx context.Context, submissionUUID string, detail metadata.SubmissionErrorDetail) error
}

// manifestGenerator is the slice of manifest.Generator the Listener depends
// on for the update/manifest path.
type manifestGenerator interface {
	Generate(ctx context.Context, processUUID, envelopeUUID string) (*manifest.AssayManifest, error)
}

// Config is the Listener's tunable behavior. The completion-publish retry
// policy itself (interval_start=0s, interval_step=2s, interval_max=30s,
// max_retries=60, spec §6) is fixed in linearBackOff rather than configured
// here, since no deployment has ever needed to vary it.
type Config struct {
	Workers               int
	PublishExchange       string
	ExperimentExportedKey string
	DisableManifest       bool
	SubmissionErrorType   string
	SubmissionErrorTitle  string
	ExportData            bool
}

// amqpChannel is the slice of *amqp.Channel the Listener depends on,
// narrowed so tests can substitute a fake rather than a live broker.
type amqpChannel interface {
	amqputil.Publisher
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Listener is the AMQP consumer described in spec §4.8.
type Listener struct {
	ch       amqpChannel
	exporter exportAPI
	jobs     jobCoordinator
	errs     errorReporter
	manifest manifestGenerator
	log      *zap.Logger
	cfg      Config
	sem      chan struct{}
}

// New builds a Listener. manifestGen may be nil iff cfg.DisableManifest is
// true; ConsumeUpdates refuses to run otherwise.
func New(ch amqpChannel, exp exportAPI, jobs jobCoordinator, errs errorReporter, manifestGen manifestGenerator, log *zap.Logger, cfg Config) *Listener {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Listener{
		ch:       ch,
		exporter: exp,
		jobs:     jobs,
		errs:     errs,
		manifest: manifestGen,
		log:      log,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.Workers),
	}
}

// ConsumeExperiments declares prefetch=1 and dispatches every delivery on
// queue to the bounded worker pool. It blocks until ctx is canceled or the
// delivery channel closes.
func (l *Listener) ConsumeExperiments(ctx context.Context, queue string) error {
	if err := l.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("listener: set prefetch: %w", err)
	}
	deliveries, err := l.ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("listener: consume %s: %w", queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			l.dispatch(ctx, func(ctx context.Context) { l.handleExperiment(ctx, d) })
		}
	}
}

// ConsumeUpdates declares prefetch=1 and dispatches every delivery on queue
// to the manifest path. A nil manifest generator is a configuration error:
// the caller should not start this consumer when DISABLE_MANIFEST is set.
func (l *Listener) ConsumeUpdates(ctx context.Context, queue string) error {
	if l.manifest == nil {
		return fmt.Errorf("listener: update consumer started without a manifest generator")
	}
	if err := l.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("listener: set prefetch: %w", err)
	}
	deliveries, err := l.ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("listener: consume %s: %w", queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			l.dispatch(ctx, func(ctx context.Context) { l.handleUpdate(ctx, d) })
		}
	}
}

// dispatch submits work to the bounded pool, blocking the dispatcher (and
// so backpressuring the broker) once Workers handlers are in flight.
func (l *Listener) dispatch(ctx context.Context, work func(ctx context.Context)) {
	l.sem <- struct{}{}
	go func() {
		defer func() { <-l.sem }()
		work(ctx)
	}()
}

func (l *Listener) handleExperiment(ctx context.Context, d amqp.Delivery) {
	msgsReceivedTotal.WithLabelValues("experiment").Inc()

	msgCtx, msg, err := amqputil.Decode[ExperimentMessage](d)
	if err == nil {
		err = validateExperimentMessage(msg)
	}
	if err != nil {
		l.log.Error("listener: malformed experiment message", zap.Error(err), zap.ByteString("body", d.Body))
		msgsFailedTotal.WithLabelValues("experiment", "parse_error").Inc()
		_ = d.Ack(false)
		return
	}
	// Carry the publisher's trace across the queue while keeping ctx's own
	// cancellation (tied to the worker pool, not the message headers).
	ctx = trace.ContextWithRemoteSpanContext(ctx, trace.SpanContextFromContext(msgCtx))

	l.log.Info("listener: received experiment message",
		zap.String("process_uuid", msg.ProcessUUID), zap.Int("index", msg.Index), zap.Int("total", msg.Total),
		zap.String("submission_uuid", msg.SubmissionUUID))

	exportErr := l.exporter.Export(ctx, msg.ProcessUUID, msg.SubmissionUUID, msg.ExperimentUUID, msg.ExperimentVersion, msg.JobID,
		exporter.Options{ExportData: l.cfg.ExportData})
	if exportErr != nil {
		l.log.Error("listener: export failed", zap.Error(exportErr), zap.String("process_uuid", msg.ProcessUUID))
		msgsFailedTotal.WithLabelValues("experiment", "export_error").Inc()
		l.reportSubmissionError(ctx, msg, exportErr)
		_ = d.Ack(false)
		return
	}

	if err := l.jobs.RecordAssay(ctx, msg.JobID, msg.ProcessID); err != nil {
		l.log.Error("listener: record assay failed", zap.Error(err), zap.String("job_id", msg.JobID))
		msgsFailedTotal.WithLabelValues("experiment", "record_assay_error").Inc()
		l.reportSubmissionError(ctx, msg, err)
		_ = d.Ack(false)
		return
	}
	if _, err := l.jobs.MaybeFinalize(ctx, msg.JobID); err != nil {
		l.log.Warn("listener: finalize check failed", zap.Error(err), zap.String("job_id", msg.JobID))
	}

	if err := l.publishCompletion(ctx, msg); err != nil {
		l.log.Error("listener: publish completion failed", zap.Error(err), zap.String("process_uuid", msg.ProcessUUID))
		msgsFailedTotal.WithLabelValues("experiment", "publish_error").Inc()
		_ = d.Ack(false)
		return
	}

	msgsSucceededTotal.WithLabelValues("experiment").Inc()
	_ = d.Ack(false)
}

func (l *Listener) handleUpdate(ctx context.Context, d amqp.Delivery) {
	msgsReceivedTotal.WithLabelValues("update").Inc()

	msgCtx, msg, err := amqputil.Decode[SimpleUpdateMessage](d)
	if err == nil {
		err = validateSimpleUpdateMessage(msg)
	}
	if err != nil {
		l.log.Error("listener: malformed update message", zap.Error(err), zap.ByteString("body", d.Body))
		msgsFailedTotal.WithLabelValues("update", "parse_error").Inc()
		_ = d.Ack(false)
		return
	}
	ctx = trace.ContextWithRemoteSpanContext(ctx, trace.SpanContextFromContext(msgCtx))

	l.log.Info("listener: received update message", zap.String("envelope_uuid", msg.EnvelopeUUID),
		zap.Int("index", msg.Index), zap.Int("total", msg.Total))

	for _, processUUID := range msg.CallbackLinks {
		if _, err := l.manifest.Generate(ctx, processUUID, msg.EnvelopeUUID); err != nil {
			l.log.Error("listener: manifest generation failed", zap.Error(err), zap.String("process_uuid", processUUID))
			msgsFailedTotal.WithLabelValues("update", "manifest_error").Inc()
			_ = d.Ack(false)
			return
		}
	}
	msgsSucceededTotal.WithLabelValues("update").Inc()
	_ = d.Ack(false)
}

// reportSubmissionError records a submission-level error, swallowing its
// own failure: the message is acknowledged regardless (spec §7).
func (l *Listener) reportSubmissionError(ctx context.Context, msg ExperimentMessage, cause error) {
	detail := metadata.SubmissionErrorDetail{
		Type:   l.errorType(),
		Title:  l.errorTitle(),
		Detail: fmt.Sprintf("Failed to export assay process %s: %s", msg.ProcessUUID, cause),
	}
	if err := l.errs.CreateSubmissionError(ctx, msg.SubmissionUUID, detail); err != nil {
		l.log.Error("listener: failed to record submission error", zap.Error(err), zap.String("submission_uuid", msg.SubmissionUUID))
	}
}

func (l *Listener) errorType() string {
	if l.cfg.SubmissionErrorType != "" {
		return l.cfg.SubmissionErrorType
	}
	return "http://exporter.ingest.data.humancellatlas.org/Error"
}

func (l *Listener) errorTitle() string {
	if l.cfg.SubmissionErrorTitle != "" {
		return l.cfg.SubmissionErrorTitle
	}
	return "An error occurred while exporting the experiment."
}

// publishCompletion republishes msg to the configured exported-routing-key
// under the fixed linear retry policy from spec §6.
func (l *Listener) publishCompletion(ctx context.Context, msg ExperimentMessage) error {
	op := func() error {
		return amqputil.Publish(ctx, l.ch, l.cfg.PublishExchange, l.cfg.ExperimentExportedKey, msg)
	}
	policy := cenkalti.WithMaxRetries(&linearBackOff{step: 2 * time.Second, max: 30 * time.Second}, 60)
	return cenkalti.Retry(op, cenkalti.WithContext(policy, ctx))
}

// linearBackOff grows its returned interval by step on every call, capped
// at max, implementing kombu's interval_start/interval_step/interval_max
// retry policy (spec §6) rather than cenkalti's default exponential growth.
type linearBackOff struct {
	step, max time.Duration
	attempt   int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	interval := time.Duration(b.attempt) * b.step
	if interval > b.max {
		interval = b.max
	}
	b.attempt++
	return interval
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
