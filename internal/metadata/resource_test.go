package metadata

import "testing"

func validRaw() map[string]any {
	return map[string]any{
		"uuid":           map[string]any{"uuid": "res-1"},
		"dcpVersion":     "2023-01-01T00:00:00.000Z",
		"submissionDate": "2023-01-01T00:00:00.000Z",
		"updateDate":     "2023-01-02T00:00:00.000Z",
		"content": map[string]any{
			"describedBy": "https://schema.humancellatlas.org/type/biomaterial/5.1.0/donor_organism",
		},
	}
}

func TestFromRawSuccess(t *testing.T) {
	r, err := FromRaw(validRaw(), TypeBiomaterial)
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	if r.UUID != "res-1" {
		t.Fatalf("unexpected uuid: %s", r.UUID)
	}
	if r.ConcreteType != "donor_organism" {
		t.Fatalf("unexpected concrete type: %s", r.ConcreteType)
	}
	if r.Provenance.SchemaMajorVersion != 5 || r.Provenance.SchemaMinorVersion != 1 {
		t.Fatalf("unexpected schema version: %+v", r.Provenance)
	}
}

func TestFromRawMissingUUID(t *testing.T) {
	raw := validRaw()
	delete(raw, "uuid")
	if _, err := FromRaw(raw, TypeBiomaterial); err == nil {
		t.Fatal("expected ParseError for missing uuid")
	}
}

func TestFromRawMissingSemver(t *testing.T) {
	raw := validRaw()
	raw["content"] = map[string]any{"describedBy": "https://schema.humancellatlas.org/type/biomaterial/donor_organism"}
	if _, err := FromRaw(raw, TypeBiomaterial); err == nil {
		t.Fatal("expected ParseError for missing semver")
	}
}

func TestContentWithProvenanceInjectsProvenance(t *testing.T) {
	r, err := FromRaw(validRaw(), TypeBiomaterial)
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	out := r.ContentWithProvenance()
	if _, ok := out["provenance"]; !ok {
		t.Fatal("expected provenance key injected")
	}
	if _, ok := r.Content["provenance"]; ok {
		t.Fatal("original content must not be mutated")
	}
}
