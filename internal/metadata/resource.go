// Package metadata models documents retrieved from the metadata repository
// and the provenance relations the Graph Crawler follows between them.
package metadata

import (
	"regexp"
	"strconv"
	"strings"
)

// Type is one of the five metadata-type buckets the crawler cares about.
type Type string

const (
	TypeBiomaterial Type = "biomaterial"
	TypeFile        Type = "file"
	TypeProcess     Type = "process"
	TypeProject     Type = "project"
	TypeProtocol    Type = "protocol"
)

// Provenance is the audit stamp carried by every resource, with the schema
// version parsed out of describedBy.
type Provenance struct {
	DocumentID         string
	SubmissionDate     string
	UpdateDate         string
	SchemaMajorVersion int
	SchemaMinorVersion int
}

// Resource is a single document retrieved from the metadata repository.
// Content and the raw payload are kept distinct: Content is the opaque
// schema'd body passed through verbatim on write, Raw is the full envelope
// relation traversal reads named links from.
type Resource struct {
	UUID         string
	DCPVersion   string
	MetadataType Type
	ConcreteType string
	Content      map[string]any
	Provenance   Provenance
	Raw          map[string]any
}

var semverPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// FromRaw parses a raw JSON-decoded document into a Resource. metadataType
// is supplied by the caller because it is relation context (which relation
// fetched this document), not a field reliably present on every document.
func FromRaw(raw map[string]any, metadataType Type) (*Resource, error) {
	uuid, ok := queryString(queryUUID, raw)
	if !ok || uuid == "" {
		return nil, missing("uuid.uuid")
	}
	dcpVersion, ok := queryString(queryDCPVersion, raw)
	if !ok || dcpVersion == "" {
		return nil, missing("dcpVersion")
	}
	describedBy, ok := queryString(queryDescribedBy, raw)
	if !ok || describedBy == "" {
		return nil, missing("content.describedBy")
	}
	content, _ := raw["content"].(map[string]any)
	if content == nil {
		return nil, missing("content")
	}

	concreteType := describedBy
	if i := strings.LastIndex(describedBy, "/"); i >= 0 {
		concreteType = describedBy[i+1:]
	}

	m := semverPattern.FindStringSubmatch(describedBy)
	if m == nil {
		return nil, &ParseError{Field: "content.describedBy", Reason: "no semver found"}
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])

	submitted, _ := queryString(querySubmitted, raw)
	updated, _ := queryString(queryUpdated, raw)

	return &Resource{
		UUID:         uuid,
		DCPVersion:   dcpVersion,
		MetadataType: metadataType,
		ConcreteType: concreteType,
		Content:      content,
		Raw:          raw,
		Provenance: Provenance{
			DocumentID:         uuid,
			SubmissionDate:     submitted,
			UpdateDate:         updated,
			SchemaMajorVersion: major,
			SchemaMinorVersion: minor,
		},
	}, nil
}

// ContentWithProvenance returns a copy of Content with a "provenance" key
// injected, as written by the Staging Client's write_metadata operation.
func (r *Resource) ContentWithProvenance() map[string]any {
	out := make(map[string]any, len(r.Content)+1)
	for k, v := range r.Content {
		out[k] = v
	}
	out["provenance"] = map[string]any{
		"document_id":          r.Provenance.DocumentID,
		"submission_date":      r.Provenance.SubmissionDate,
		"update_date":          r.Provenance.UpdateDate,
		"schema_major_version": r.Provenance.SchemaMajorVersion,
		"schema_minor_version": r.Provenance.SchemaMinorVersion,
	}
	return out
}
