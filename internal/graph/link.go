package graph

import "fmt"

// ProcessLink describes one provenance step: a process with its inputs,
// outputs, and protocols. Each inner list is deduplicated by uuid in
// insertion order (spec §3).
type ProcessLink struct {
	ProcessUUID string
	ProcessType string
	Inputs      []Entity
	Outputs     []Entity
	Protocols   []Entity
}

// SupplementaryFileLink attaches supplementary files to an entity, typically
// a project.
type SupplementaryFileLink struct {
	Entity Entity
	Files  []Entity
}

func (p ProcessLink) clone() ProcessLink {
	p.Inputs = copyEntities(p.Inputs)
	p.Outputs = copyEntities(p.Outputs)
	p.Protocols = copyEntities(p.Protocols)
	return p
}

func (s SupplementaryFileLink) clone() SupplementaryFileLink {
	s.Files = copyEntities(s.Files)
	return s
}

// merge unions other's inputs/outputs/protocols into p under the
// deduplication rule. Mismatched ProcessType is a programmer error: the
// caller is trying to merge two links that do not describe the same
// process.
func (p *ProcessLink) merge(other ProcessLink) error {
	if p.ProcessType != other.ProcessType {
		return fmt.Errorf("graph: process %s: mismatched process_type %q vs %q", p.ProcessUUID, p.ProcessType, other.ProcessType)
	}
	for _, e := range other.Inputs {
		p.Inputs = dedupAppend(p.Inputs, e)
	}
	for _, e := range other.Outputs {
		p.Outputs = dedupAppend(p.Outputs, e)
	}
	for _, e := range other.Protocols {
		p.Protocols = dedupAppend(p.Protocols, e)
	}
	return nil
}

func (s *SupplementaryFileLink) merge(other SupplementaryFileLink) {
	for _, f := range other.Files {
		s.Files = dedupAppend(s.Files, f)
	}
}
