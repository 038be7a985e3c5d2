package metadata

import "fmt"

// ParseError reports a missing or malformed field in a raw metadata
// document. Parse failures are never swallowed (spec §4.1 invariant).
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("metadata: field %q: %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &ParseError{Field: field, Reason: "missing or not a string"}
}
