// Package exporter orchestrates a single experiment's export: load its
// process/project/submission, ensure (or observe) the data-file transfer,
// crawl the full provenance graph, and stage every node plus the links
// document (spec §4.8).
package exporter

import (
	"context"
	"fmt"

	"github.com/ebi-ait/ingest-exporter/internal/backoff"
	"github.com/ebi-ait/ingest-exporter/internal/graph"
	"github.com/ebi-ait/ingest-exporter/internal/metadata"
	"github.com/ebi-ait/ingest-exporter/internal/transfer"
)

// crawlerAPI is the slice of crawler.Crawler the Exporter depends on.
type crawlerAPI interface {
	BuildFull(ctx context.Context, process, project *metadata.Resource) (*graph.ExperimentGraph, error)
}

// stagingAPI is the slice of staging.Client the Exporter depends on.
type stagingAPI interface {
	WriteMetadata(ctx context.Context, m *metadata.Resource, project string) error
	WriteLinks(ctx context.Context, linkSet *graph.LinkSet, processUUID, processVersion, project string) error
	TransferDataFiles(ctx context.Context, submissionRaw map[string]any, project, exportJobID string) (transfer.JobSpec, bool, error)
}

// transferWaiter is the slice of transfer.Orchestrator the Exporter depends
// on once it has created a transfer job as the owning worker.
type transferWaiter interface {
	WaitForCompletion(ctx context.Context, jobName, projectID string, cfg backoff.Config) error
}

// jobCoordinator is the slice of exportjob.Coordinator the Exporter depends
// on to decide and record the data-transfer-complete flag.
type jobCoordinator interface {
	IsDataTransferComplete(ctx context.Context, jobID string) (bool, error)
	SetDataTransferComplete(ctx context.Context, jobID string) error
	WaitForDataTransfer(ctx context.Context, jobID string, cfg backoff.Config) error
}

// loader is the slice of metadata.Service the Exporter depends on to load
// the experiment's process, project, and submission.
type loader interface {
	FetchByUUID(ctx context.Context, entityType, uuid string, metadataType metadata.Type) (*metadata.Resource, error)
	FetchRawByUUID(ctx context.Context, entityType, uuid string) (map[string]any, error)
	Projects(ctx context.Context, process *metadata.Resource) ([]*metadata.Resource, error)
}

// Exporter is the per-experiment export orchestrator.
type Exporter struct {
	metadata    loader
	crawler     crawlerAPI
	staging     stagingAPI
	transfer    transferWaiter
	jobs        jobCoordinator
	projectID   string
	transferCfg backoff.Config
	jobCfg      backoff.Config
}

// New builds an Exporter. transferCfg bounds polling for a transfer job this
// worker created; jobCfg bounds polling for a transfer job a peer created.
func New(metadataSvc loader, crawler crawlerAPI, staging stagingAPI, xfer transferWaiter, jobs jobCoordinator, projectID string, transferCfg, jobCfg backoff.Config) *Exporter {
	return &Exporter{
		metadata:    metadataSvc,
		crawler:     crawler,
		staging:     staging,
		transfer:    xfer,
		jobs:        jobs,
		projectID:   projectID,
		transferCfg: transferCfg,
		jobCfg:      jobCfg,
	}
}

// Options controls per-call export behavior.
type Options struct {
	// ExportData, when false, skips the transfer-ensure/observe step
	// entirely; a process's export may run metadata-only (spec §4.8 step 2:
	// "if export_data is requested").
	ExportData bool
}

// Export runs the full per-experiment pipeline described in spec §4.8.
func (e *Exporter) Export(ctx context.Context, processUUID, submissionUUID, experimentUUID, experimentVersion, jobID string, opts Options) error {
	process, err := e.metadata.FetchByUUID(ctx, "processes", processUUID, metadata.TypeProcess)
	if err != nil {
		return fmt.Errorf("exporter: load process %s: %w", processUUID, err)
	}
	projects, err := e.metadata.Projects(ctx, process)
	if err != nil {
		return fmt.Errorf("exporter: load project for process %s: %w", processUUID, err)
	}
	if len(projects) == 0 {
		return fmt.Errorf("exporter: process %s has no project relation", processUUID)
	}
	project := projects[0]

	if opts.ExportData {
		if err := e.ensureDataTransferred(ctx, submissionUUID, project.UUID, jobID); err != nil {
			return fmt.Errorf("exporter: ensure data transfer for job %s: %w", jobID, err)
		}
	}

	experimentGraph, err := e.crawler.BuildFull(ctx, process, project)
	if err != nil {
		return fmt.Errorf("exporter: build graph for process %s: %w", processUUID, err)
	}

	for _, node := range experimentGraph.Nodes.Nodes() {
		if err := e.staging.WriteMetadata(ctx, node, project.UUID); err != nil {
			return fmt.Errorf("exporter: write metadata %s: %w", node.UUID, err)
		}
	}
	if err := e.staging.WriteLinks(ctx, experimentGraph.Links, experimentUUID, experimentVersion, project.UUID); err != nil {
		return fmt.Errorf("exporter: write links for experiment %s: %w", experimentUUID, err)
	}
	return nil
}

// ensureDataTransferred implements the creator/observer split of spec §4.8
// step 2: the worker that creates the transfer job polls the transfer
// service and owns setting data_transfer_complete; a worker that observes
// an already-created job instead polls the coordinator's flag, which the
// creator will eventually set. Peers skip this entirely once the flag is
// already true, so the external rate quota is spent by at most one worker
// per submission.
func (e *Exporter) ensureDataTransferred(ctx context.Context, submissionUUID, projectUUID, jobID string) error {
	complete, err := e.jobs.IsDataTransferComplete(ctx, jobID)
	if err != nil {
		return fmt.Errorf("check data transfer complete: %w", err)
	}
	if complete {
		return nil
	}

	submission, err := e.metadata.FetchRawByUUID(ctx, "submissionEnvelopes", submissionUUID)
	if err != nil {
		return fmt.Errorf("load submission %s: %w", submissionUUID, err)
	}

	spec, created, err := e.staging.TransferDataFiles(ctx, submission, projectUUID, jobID)
	if err != nil {
		return fmt.Errorf("ensure transfer: %w", err)
	}

	if created {
		if err := e.transfer.WaitForCompletion(ctx, spec.Name, e.projectID, e.transferCfg); err != nil {
			return fmt.Errorf("wait for transfer completion: %w", err)
		}
		if err := e.jobs.SetDataTransferComplete(ctx, jobID); err != nil {
			return fmt.Errorf("set data transfer complete: %w", err)
		}
		return nil
	}

	if err := e.jobs.WaitForDataTransfer(ctx, jobID, e.jobCfg); err != nil {
		return fmt.Errorf("wait for peer's transfer: %w", err)
	}
	return nil
}
