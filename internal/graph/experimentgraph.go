package graph

// ExperimentGraph is the per-message provenance graph the Crawler builds
// and the Staging Client serializes. It is constructed fresh per message
// and discarded after export; it carries no process-wide state.
type ExperimentGraph struct {
	Nodes *NodeSet
	Links *LinkSet
}

// New returns an empty ExperimentGraph.
func New() *ExperimentGraph {
	return &ExperimentGraph{Nodes: NewNodeSet(), Links: NewLinkSet()}
}

// Extend merges both halves of other into g and returns g, mirroring the
// source's extend(graph) -> self convention.
func (g *ExperimentGraph) Extend(other *ExperimentGraph) (*ExperimentGraph, error) {
	g.Nodes.Extend(other.Nodes)
	if err := g.Links.Extend(other.Links); err != nil {
		return nil, err
	}
	return g, nil
}
