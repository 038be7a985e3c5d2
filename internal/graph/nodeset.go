package graph

import "github.com/ebi-ait/ingest-exporter/internal/metadata"

// NodeSet is a MetadataNodeSet: a collection of metadata.Resource that is a
// set by uuid. First insertion wins; later inserts of the same uuid are
// no-ops. Iteration order is insertion order (spec §3).
type NodeSet struct {
	order  []string
	byUUID map[string]*metadata.Resource
}

// NewNodeSet returns an empty NodeSet.
func NewNodeSet() *NodeSet {
	return &NodeSet{byUUID: make(map[string]*metadata.Resource)}
}

// Add inserts r if no resource with the same uuid is already present.
func (ns *NodeSet) Add(r *metadata.Resource) {
	if _, ok := ns.byUUID[r.UUID]; ok {
		return
	}
	cp := *r
	ns.byUUID[r.UUID] = &cp
	ns.order = append(ns.order, r.UUID)
}

// Contains reports whether uuid is already present.
func (ns *NodeSet) Contains(uuid string) bool {
	_, ok := ns.byUUID[uuid]
	return ok
}

// Nodes returns a defensive copy of every node, in insertion order.
func (ns *NodeSet) Nodes() []*metadata.Resource {
	out := make([]*metadata.Resource, 0, len(ns.order))
	for _, id := range ns.order {
		cp := *ns.byUUID[id]
		out = append(out, &cp)
	}
	return out
}

// Len returns the number of distinct nodes.
func (ns *NodeSet) Len() int { return len(ns.order) }

// Extend inserts every node of other into ns.
func (ns *NodeSet) Extend(other *NodeSet) {
	for _, id := range other.order {
		ns.Add(other.byUUID[id])
	}
}
