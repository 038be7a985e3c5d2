// Package crawler implements the Graph Crawler: traversal of a
// process-centric provenance DAG over the metadata repository, producing a
// deduplicated ExperimentGraph (spec §4.3).
package crawler

import (
	"context"
	"fmt"

	"github.com/ebi-ait/ingest-exporter/internal/graph"
	"github.com/ebi-ait/ingest-exporter/internal/metadata"
	"github.com/ebi-ait/ingest-exporter/pkg/fn"
)

// direction is which way crawl walks the frontier: upward toward the
// processes that derived a process's inputs, or downward toward the
// processes that consume its outputs.
type direction int

const (
	upward direction = iota
	downward
)

// ProcessInfo is the five-lookup fan-out result for a single process:
// its declared inputs, outputs, and protocols.
type ProcessInfo struct {
	Process   *metadata.Resource
	Inputs    []*metadata.Resource
	Outputs   []*metadata.Resource
	Protocols []*metadata.Resource
}

// Crawler walks the provenance graph via the metadata Service. Traversal is
// iterative (an explicit worklist plus a visited set of process uuids), not
// recursive: the underlying data can contain cycles, and an iterative walk
// with a visited set terminates on them without relying solely on the
// dedup behavior of the node/link sets.
type Crawler struct {
	metadata *metadata.Service
}

// New builds a Crawler backed by svc.
func New(svc *metadata.Service) *Crawler {
	return &Crawler{metadata: svc}
}

// BuildFull assembles the complete experiment graph for seed process within
// project: the upward traversal, the downward traversal, and the project's
// supplementary-file sub-graph, folded together (spec §4.3).
func (c *Crawler) BuildFull(ctx context.Context, process, project *metadata.Resource) (*graph.ExperimentGraph, error) {
	up, err := c.crawl(ctx, process, upward)
	if err != nil {
		return nil, fmt.Errorf("crawler: upward crawl from %s: %w", process.UUID, err)
	}
	down, err := c.crawl(ctx, process, downward)
	if err != nil {
		return nil, fmt.Errorf("crawler: downward crawl from %s: %w", process.UUID, err)
	}
	suppl, err := c.buildSupplementary(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("crawler: supplementary graph for %s: %w", project.UUID, err)
	}

	merged, err := up.Extend(down)
	if err != nil {
		return nil, err
	}
	return merged.Extend(suppl)
}

// fetchProcessInfo issues the five per-process relation lookups. The spec
// explicitly allows them to run concurrently.
func (c *Crawler) fetchProcessInfo(ctx context.Context, process *metadata.Resource) (ProcessInfo, error) {
	results := fn.FanOutResult(
		func() fn.Result[[]*metadata.Resource] { return fn.FromPair(c.metadata.InputBiomaterials(ctx, process)) },
		func() fn.Result[[]*metadata.Resource] { return fn.FromPair(c.metadata.InputFiles(ctx, process)) },
		func() fn.Result[[]*metadata.Resource] { return fn.FromPair(c.metadata.DerivedBiomaterials(ctx, process)) },
		func() fn.Result[[]*metadata.Resource] { return fn.FromPair(c.metadata.DerivedFiles(ctx, process)) },
		func() fn.Result[[]*metadata.Resource] { return fn.FromPair(c.metadata.Protocols(ctx, process)) },
	)
	all, err := results.Unwrap()
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("crawler: fetching process info for %s: %w", process.UUID, err)
	}

	inputs := append(append([]*metadata.Resource{}, all[0]...), all[1]...)
	outputs := append(append([]*metadata.Resource{}, all[2]...), all[3]...)

	return ProcessInfo{
		Process:   process,
		Inputs:    inputs,
		Outputs:   outputs,
		Protocols: all[4],
	}, nil
}

// nextFrontier computes the processes crawl should recurse into next:
// upward from each input's derived_by_processes, downward from each
// output's input_to_processes.
func (c *Crawler) nextFrontier(ctx context.Context, info ProcessInfo, dir direction) ([]*metadata.Resource, error) {
	var members []*metadata.Resource
	var relate func(context.Context, *metadata.Resource) ([]*metadata.Resource, error)
	switch dir {
	case upward:
		members = info.Inputs
		relate = c.metadata.DerivedByProcesses
	case downward:
		members = info.Outputs
		relate = c.metadata.InputToProcesses
	}

	var next []*metadata.Resource
	for _, m := range members {
		procs, err := relate(ctx, m)
		if err != nil {
			return nil, err
		}
		next = append(next, procs...)
	}
	return next, nil
}

// crawl walks direction from seed, returning the accumulated partial graph.
// A visited set of process uuids short-circuits redundant expansion so
// cycles in the provenance data terminate.
func (c *Crawler) crawl(ctx context.Context, seed *metadata.Resource, dir direction) (*graph.ExperimentGraph, error) {
	acc := graph.New()
	visited := map[string]bool{}
	frontier := []*metadata.Resource{seed}

	for len(frontier) > 0 {
		process := frontier[0]
		frontier = frontier[1:]

		if visited[process.UUID] {
			continue
		}
		visited[process.UUID] = true

		info, err := c.fetchProcessInfo(ctx, process)
		if err != nil {
			return nil, err
		}

		acc.Nodes.Add(process)
		for _, e := range append(append(append([]*metadata.Resource{}, info.Inputs...), info.Outputs...), info.Protocols...) {
			acc.Nodes.Add(e)
		}
		if err := acc.Links.AddProcessLink(processLink(info)); err != nil {
			return nil, err
		}

		next, err := c.nextFrontier(ctx, info, dir)
		if err != nil {
			return nil, err
		}
		for _, p := range next {
			if !visited[p.UUID] {
				frontier = append(frontier, p)
			}
		}
	}

	return acc, nil
}

// buildSupplementary fetches a project's supplementary files and returns a
// graph containing the project node plus, if any files exist, a
// SupplementaryFileLink (spec §4.3).
func (c *Crawler) buildSupplementary(ctx context.Context, project *metadata.Resource) (*graph.ExperimentGraph, error) {
	files, err := c.metadata.SupplementaryFiles(ctx, project)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	g.Nodes.Add(project)
	if len(files) == 0 {
		return g, nil
	}

	link := graph.SupplementaryFileLink{Entity: asEntity(project)}
	for _, f := range files {
		g.Nodes.Add(f)
		link.Files = append(link.Files, asEntity(f))
	}
	g.Links.AddSupplementaryLink(link)
	return g, nil
}

func processLink(info ProcessInfo) graph.ProcessLink {
	l := graph.ProcessLink{
		ProcessUUID: info.Process.UUID,
		ProcessType: info.Process.ConcreteType,
	}
	for _, e := range info.Inputs {
		l.Inputs = append(l.Inputs, asEntity(e))
	}
	for _, e := range info.Outputs {
		l.Outputs = append(l.Outputs, asEntity(e))
	}
	for _, e := range info.Protocols {
		l.Protocols = append(l.Protocols, asEntity(e))
	}
	return l
}

func asEntity(r *metadata.Resource) graph.Entity {
	return graph.Entity{Type: string(r.MetadataType), UUID: r.UUID}
}
