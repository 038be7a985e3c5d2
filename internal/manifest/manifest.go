// Package manifest is the variant exporter for the update queue: it builds
// an AssayManifest from an already-crawled provenance graph and posts it to
// the metadata repository, without touching the Transfer Orchestrator or the
// Destination Store Client (spec §4.8, last paragraph).
package manifest

import (
	"context"
	"fmt"

	"github.com/ebi-ait/ingest-exporter/internal/graph"
	"github.com/ebi-ait/ingest-exporter/internal/metadata"
)

// AssayManifest is the uuid-to-uuid-list bundle manifest shape the metadata
// repository's bundle-manifest resource expects, grounded on
// original_source/exporter/manifest.py's AssayManifest.
type AssayManifest struct {
	EnvelopeUUID       string              `json:"envelopeUuid"`
	DataFiles          []string            `json:"dataFiles"`
	FileBiomaterialMap map[string][]string `json:"fileBiomaterialMap"`
	FileProcessMap     map[string][]string `json:"fileProcessMap"`
	FileFilesMap       map[string][]string `json:"fileFilesMap"`
	FileProjectMap     map[string][]string `json:"fileProjectMap"`
	FileProtocolMap    map[string][]string `json:"fileProtocolMap"`
}

func newAssayManifest(envelopeUUID string) *AssayManifest {
	return &AssayManifest{
		EnvelopeUUID:       envelopeUUID,
		FileBiomaterialMap: map[string][]string{},
		FileProcessMap:     map[string][]string{},
		FileFilesMap:       map[string][]string{},
		FileProjectMap:     map[string][]string{},
		FileProtocolMap:    map[string][]string{},
	}
}

// Build maps every node in g onto the manifest's per-type uuid buckets, and
// collects every file node's uuid as a flat dataFiles list. Each node maps
// only to itself ({uuid: [uuid]}), matching the source's per-type identity
// mapping (spec's bundle-manifest shape predates any cross-bundle grouping).
func Build(g *graph.ExperimentGraph, envelopeUUID string) *AssayManifest {
	m := newAssayManifest(envelopeUUID)
	for _, n := range g.Nodes.Nodes() {
		switch n.MetadataType {
		case metadata.TypeBiomaterial:
			m.FileBiomaterialMap[n.UUID] = []string{n.UUID}
		case metadata.TypeProcess:
			m.FileProcessMap[n.UUID] = []string{n.UUID}
		case metadata.TypeProtocol:
			m.FileProtocolMap[n.UUID] = []string{n.UUID}
		case metadata.TypeProject:
			m.FileProjectMap[n.UUID] = []string{n.UUID}
		case metadata.TypeFile:
			m.FileFilesMap[n.UUID] = []string{n.UUID}
			m.DataFiles = append(m.DataFiles, n.UUID)
		}
	}
	return m
}

// crawlerAPI is the slice of crawler.Crawler the Generator depends on.
type crawlerAPI interface {
	BuildFull(ctx context.Context, process, project *metadata.Resource) (*graph.ExperimentGraph, error)
}

// loader is the slice of metadata.Service the Generator depends on to load
// the process and its project.
type loader interface {
	FetchByUUID(ctx context.Context, entityType, uuid string, metadataType metadata.Type) (*metadata.Resource, error)
	Projects(ctx context.Context, process *metadata.Resource) ([]*metadata.Resource, error)
}

// publisher is the slice of ingestapi.Client the Generator depends on to
// submit the built manifest.
type publisher interface {
	Post(ctx context.Context, url string, body any) (map[string]any, error)
}

// Generator builds and publishes AssayManifests for the update/manifest
// path (spec §4.8's "manifest path").
type Generator struct {
	metadata loader
	crawler  crawlerAPI
	client   publisher
}

// New builds a Generator.
func New(metadataSvc loader, crawler crawlerAPI, client publisher) *Generator {
	return &Generator{metadata: metadataSvc, crawler: crawler, client: client}
}

// Generate loads process and its project, crawls the full experiment graph,
// builds the AssayManifest, and posts it to the bundle-manifests resource.
func (g *Generator) Generate(ctx context.Context, processUUID, envelopeUUID string) (*AssayManifest, error) {
	process, err := g.metadata.FetchByUUID(ctx, "processes", processUUID, metadata.TypeProcess)
	if err != nil {
		return nil, fmt.Errorf("manifest: load process %s: %w", processUUID, err)
	}
	projects, err := g.metadata.Projects(ctx, process)
	if err != nil {
		return nil, fmt.Errorf("manifest: load project for process %s: %w", processUUID, err)
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("manifest: process %s has no project relation", processUUID)
	}

	experimentGraph, err := g.crawler.BuildFull(ctx, process, projects[0])
	if err != nil {
		return nil, fmt.Errorf("manifest: build graph for process %s: %w", processUUID, err)
	}

	assayManifest := Build(experimentGraph, envelopeUUID)
	if _, err := g.client.Post(ctx, "bundleManifests", assayManifest); err != nil {
		return nil, fmt.Errorf("manifest: post assay manifest for process %s: %w", processUUID, err)
	}
	return assayManifest, nil
}
