// Package transfer is the Transfer Orchestrator: creating and observing GCP
// Storage Transfer Service jobs that copy a submission's upload area into
// the destination bucket (spec §4.6).
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ebi-ait/ingest-exporter/internal/backoff"
	"github.com/ebi-ait/ingest-exporter/pkg/resilience"
)

// ErrAlreadyExists is returned by the client when a transfer job with the
// requested name already exists; this is the "observer, not creator" branch
// of ensure_transfer (spec §4.6).
var ErrAlreadyExists = errors.New("transfer: job already exists")

// JobSpec is the transfer job the Orchestrator submits to the external
// service.
type JobSpec struct {
	Name               string
	Description        string
	ProjectID          string
	SourceBucket       string
	SourcePath         string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	DestBucket         string
	DestPath           string
}

// client is the narrow surface of cloud.google.com/go/storagetransfer/apiv1
// the Orchestrator depends on, exposed as an interface so tests can fake the
// external transfer service without live GCP credentials.
type client interface {
	CreateTransferJob(ctx context.Context, spec JobSpec) error
	IsJobDone(ctx context.Context, jobName, projectID string) (bool, error)
}

// Orchestrator ensures and observes Storage Transfer Service jobs.
type Orchestrator struct {
	client     client
	breaker    *resilience.Breaker
	projectID  string
	destBucket string
	destPrefix string
	awsKeyID   string
	awsSecret  string
}

// NewOrchestrator builds an Orchestrator targeting destBucket/destPrefix,
// using the given AWS credentials as the transfer's source-side
// authentication (the upload areas it copies from are S3 buckets).
func NewOrchestrator(c client, projectID, destBucket, destPrefix, awsKeyID, awsSecret string) *Orchestrator {
	return &Orchestrator{
		client:     c,
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		projectID:  projectID,
		destBucket: destBucket,
		destPrefix: destPrefix,
		awsKeyID:   awsKeyID,
		awsSecret:  awsSecret,
	}
}

// EnsureTransfer builds the job spec for sourceBucket/sourcePath and attempts
// to create it. created=true means this caller is the owner and must drive
// WaitForCompletion; created=false means a peer already created this job and
// the caller becomes an observer (spec §4.6).
func (o *Orchestrator) EnsureTransfer(ctx context.Context, sourceBucket, sourcePath, project, exportJobID string) (JobSpec, bool, error) {
	spec := JobSpec{
		Name:               fmt.Sprintf("transferJobs/%s", exportJobID),
		Description:        fmt.Sprintf("Transfer job for ingest upload-service area %s and export-job-id %s", sourcePath, exportJobID),
		ProjectID:          o.projectID,
		SourceBucket:       sourceBucket,
		SourcePath:         sourcePath + "/",
		AWSAccessKeyID:     o.awsKeyID,
		AWSSecretAccessKey: o.awsSecret,
		DestBucket:         o.destBucket,
		DestPath:           fmt.Sprintf("%s/%s/data/", o.destPrefix, project),
	}

	err := o.breaker.Call(ctx, func(ctx context.Context) error {
		return o.client.CreateTransferJob(ctx, spec)
	})
	if err == nil {
		ensureTotal.WithLabelValues("created").Inc()
		return spec, true, nil
	}
	if errors.Is(err, ErrAlreadyExists) {
		ensureTotal.WithLabelValues("observed").Inc()
		return spec, false, nil
	}
	ensureTotal.WithLabelValues("error").Inc()
	return JobSpec{}, false, fmt.Errorf("transfer: create job %s: %w", spec.Name, err)
}

// WaitForCompletion polls job_name's operations, clamping the backoff step
// to 10 minutes to respect the external service's rate quota, bounded by
// cfg.MaxElapsedTime overall.
func (o *Orchestrator) WaitForCompletion(ctx context.Context, jobName, projectID string, cfg backoff.Config) error {
	if cfg.MaxInterval > 10*time.Minute || cfg.MaxInterval == 0 {
		cfg.MaxInterval = 10 * time.Minute
	}
	err := backoff.Poll(ctx, cfg, func(ctx context.Context) (bool, error) {
		var done bool
		callErr := o.breaker.Call(ctx, func(ctx context.Context) error {
			var err error
			done, err = o.client.IsJobDone(ctx, jobName, projectID)
			return err
		})
		return done, callErr
	})
	if errors.Is(err, backoff.ErrTimeout) {
		waitTotal.WithLabelValues("timeout").Inc()
		return fmt.Errorf("transfer: wait for %s: %w", jobName, err)
	}
	if err == nil {
		waitTotal.WithLabelValues("completed").Inc()
	}
	return err
}
