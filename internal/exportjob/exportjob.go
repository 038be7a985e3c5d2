// Package exportjob is the Export Job Coordinator: it records individual
// assay completions against the external job-tracking resource, decides
// when a job is fully exported, and tracks the separate
// data-transfer-complete flag peers poll instead of the transfer service
// itself (spec §4.7).
package exportjob

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"github.com/ebi-ait/ingest-exporter/internal/backoff"
)

// State is one of the export job's lifecycle states.
type State string

const (
	StateExporting  State = "EXPORTING"
	StateExported   State = "EXPORTED"
	StateDeprecated State = "DEPRECATED"
	StateFailed     State = "FAILED"
)

// Error is one error entry attached to a recorded assay.
type Error struct {
	Message string
}

func (e Error) toDict() map[string]any {
	return map[string]any{
		"message":   e.Message,
		"errorCode": -1,
		"details":   map[string]any{},
	}
}

// Job is the job-tracking resource's current state.
type Job struct {
	JobID                string
	ExpectedAssayCount   int
	State                State
	DataTransferComplete bool
}

// apiClient is the slice of ingestapi.Client the Coordinator depends on.
type apiClient interface {
	Get(ctx context.Context, url string) (map[string]any, error)
	Post(ctx context.Context, url string, body any) (map[string]any, error)
	Patch(ctx context.Context, url string, body any) error
}

// Coordinator is the Export Job Coordinator.
type Coordinator struct {
	client  apiClient
	baseURL string
}

// New builds a Coordinator against baseURL's /exportJobs resource.
func New(client apiClient, baseURL string) *Coordinator {
	return &Coordinator{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Coordinator) jobURL(jobID string) string {
	return fmt.Sprintf("%s/exportJobs/%s", c.baseURL, jobID)
}

func (c *Coordinator) entitiesURL(jobID string) string {
	return c.jobURL(jobID) + "/entities"
}

// RecordAssay posts an "assay exported" entity for assayProcessID against
// jobID. The external service treats this as idempotent per
// (job_id, assay_process_id).
func (c *Coordinator) RecordAssay(ctx context.Context, jobID, assayProcessID string, errs ...Error) error {
	errDicts := make([]map[string]any, 0, len(errs))
	for _, e := range errs {
		errDicts = append(errDicts, e.toDict())
	}
	body := map[string]any{
		"status": string(StateExported),
		"context": map[string]any{
			"assayProcessId": assayProcessID,
		},
		"errors": errDicts,
	}
	if _, err := c.client.Post(ctx, c.entitiesURL(jobID), body); err != nil {
		return errors.Wrapf(err, "exportjob: record assay %s for job %s", assayProcessID, jobID)
	}
	assaysRecordedTotal.Inc()
	return nil
}

// MaybeFinalize patches jobID to EXPORTED and returns true if the number of
// exported assay entities recorded for the job equals its expected count.
// Two workers concluding the last assay concurrently may both attempt this;
// the external service tolerates a redundant EXPORTED patch.
func (c *Coordinator) MaybeFinalize(ctx context.Context, jobID string) (bool, error) {
	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return false, errors.Wrapf(err, "exportjob: get job %s", jobID)
	}
	count, err := c.exportedEntityCount(ctx, jobID)
	if err != nil {
		return false, errors.Wrapf(err, "exportjob: count entities for job %s", jobID)
	}
	if count != job.ExpectedAssayCount {
		return false, nil
	}
	if err := c.client.Patch(ctx, c.jobURL(jobID), map[string]any{"status": string(StateExported)}); err != nil {
		return false, errors.Wrapf(err, "exportjob: finalize job %s", jobID)
	}
	jobsFinalizedTotal.Inc()
	return true, nil
}

func (c *Coordinator) exportedEntityCount(ctx context.Context, jobID string) (int, error) {
	url := c.entitiesURL(jobID) + "?status=" + string(StateExported)
	raw, err := c.client.Get(ctx, url)
	if err != nil {
		return 0, err
	}
	page, _ := raw["page"].(map[string]any)
	total, _ := page["totalElements"].(float64)
	return int(total), nil
}

// GetJob fetches jobID's current state.
func (c *Coordinator) GetJob(ctx context.Context, jobID string) (Job, error) {
	raw, err := c.client.Get(ctx, c.jobURL(jobID))
	if err != nil {
		return Job{}, err
	}
	return jobFromRaw(jobID, raw)
}

func jobFromRaw(jobID string, raw map[string]any) (Job, error) {
	jobContext, _ := raw["context"].(map[string]any)
	expected, err := asInt(jobContext["expectedAssays"])
	if err != nil {
		return Job{}, &ParseError{Field: "context.expectedAssays", Reason: err.Error()}
	}
	stateRaw, _ := raw["state"].(string)
	complete, _ := jobContext["dataTransferComplete"].(bool)
	return Job{
		JobID:                jobID,
		ExpectedAssayCount:   expected,
		State:                State(stateRaw),
		DataTransferComplete: complete,
	}, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// SetDataTransferComplete flips jobID's data-transfer-complete context flag.
// Only the worker that created the transfer job calls this, after observing
// its completion; peers that lost the creation race instead poll
// IsDataTransferComplete/WaitForDataTransfer.
func (c *Coordinator) SetDataTransferComplete(ctx context.Context, jobID string) error {
	body := map[string]any{"context": map[string]any{"dataTransferComplete": true}}
	if err := c.client.Patch(ctx, c.jobURL(jobID), body); err != nil {
		return errors.Wrapf(err, "exportjob: set data transfer complete for job %s", jobID)
	}
	return nil
}

// IsDataTransferComplete observes jobID's data-transfer-complete flag.
func (c *Coordinator) IsDataTransferComplete(ctx context.Context, jobID string) (bool, error) {
	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return false, errors.Wrapf(err, "exportjob: get job %s", jobID)
	}
	return job.DataTransferComplete, nil
}

// WaitForDataTransfer polls IsDataTransferComplete with exponential backoff
// bounded by cfg, for peers that lost the transfer-creation race.
func (c *Coordinator) WaitForDataTransfer(ctx context.Context, jobID string, cfg backoff.Config) error {
	err := backoff.Poll(ctx, cfg, func(ctx context.Context) (bool, error) {
		return c.IsDataTransferComplete(ctx, jobID)
	})
	if errors.Is(err, backoff.ErrTimeout) {
		return errors.Wrapf(err, "exportjob: wait for data transfer on job %s", jobID)
	}
	return err
}

// ParseError reports that a job document could not be parsed.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("exportjob: parse %s: %s", e.Field, e.Reason)
}
