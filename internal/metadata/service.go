package metadata

import (
	"context"
	"fmt"

	"github.com/ebi-ait/ingest-exporter/internal/ingestapi"
)

// relatedClient is the slice of ingestapi.Client the Service depends on;
// narrowed to an interface so tests can fake paginated relation traversal
// without standing up an HTTP server.
type relatedClient interface {
	Get(ctx context.Context, url string) (map[string]any, error)
	Post(ctx context.Context, url string, body any) (map[string]any, error)
	Related(subject map[string]any, relation string) *ingestapi.RelatedIterator
}

// Service is the typed accessor over the metadata repository: fetch a
// resource by callback link, and follow named relations off a resource's
// raw payload.
type Service struct {
	client relatedClient
}

// NewService builds a Service backed by a concrete ingestapi.Client.
func NewService(client *ingestapi.Client) *Service {
	return &Service{client: client}
}

// NewServiceWithClient builds a Service backed by an arbitrary client
// implementation; exported so other packages' tests (e.g. the crawler's
// fan-out tests) can fake relation traversal without an HTTP server.
func NewServiceWithClient(client interface {
	Get(ctx context.Context, url string) (map[string]any, error)
	Post(ctx context.Context, url string, body any) (map[string]any, error)
	Related(subject map[string]any, relation string) *ingestapi.RelatedIterator
}) *Service {
	return &Service{client: client}
}

// Fetch retrieves and parses the document at link.
func (s *Service) Fetch(ctx context.Context, link string, metadataType Type) (*Resource, error) {
	raw, err := s.client.Get(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch %s: %w", link, err)
	}
	return FromRaw(raw, metadataType)
}

// Related follows relation on subject's raw payload and parses every
// paginated result as targetType. A missing relation link yields an empty
// slice, not an error (spec §4.1 invariant). Calling Related again starts a
// fresh, independent traversal.
func (s *Service) Related(ctx context.Context, subject *Resource, relation string, targetType Type) ([]*Resource, error) {
	it := s.client.Related(subject.Raw, relation)
	var out []*Resource
	for {
		raw, ok, err := it.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("metadata: related %s on %s: %w", relation, subject.UUID, err)
		}
		if !ok {
			return out, nil
		}
		res, err := FromRaw(raw, targetType)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
}

// The eight convenience relations the Graph Crawler needs (spec §4.1).

func (s *Service) InputBiomaterials(ctx context.Context, process *Resource) ([]*Resource, error) {
	return s.Related(ctx, process, "inputBiomaterials", TypeBiomaterial)
}

func (s *Service) InputFiles(ctx context.Context, process *Resource) ([]*Resource, error) {
	return s.Related(ctx, process, "inputFiles", TypeFile)
}

func (s *Service) DerivedBiomaterials(ctx context.Context, process *Resource) ([]*Resource, error) {
	return s.Related(ctx, process, "derivedBiomaterials", TypeBiomaterial)
}

func (s *Service) DerivedFiles(ctx context.Context, process *Resource) ([]*Resource, error) {
	return s.Related(ctx, process, "derivedFiles", TypeFile)
}

func (s *Service) Protocols(ctx context.Context, process *Resource) ([]*Resource, error) {
	return s.Related(ctx, process, "protocols", TypeProtocol)
}

func (s *Service) DerivedByProcesses(ctx context.Context, entity *Resource) ([]*Resource, error) {
	return s.Related(ctx, entity, "derivedByProcesses", TypeProcess)
}

func (s *Service) InputToProcesses(ctx context.Context, entity *Resource) ([]*Resource, error) {
	return s.Related(ctx, entity, "inputToProcesses", TypeProcess)
}

func (s *Service) SupplementaryFiles(ctx context.Context, project *Resource) ([]*Resource, error) {
	return s.Related(ctx, project, "supplementaryFiles", TypeFile)
}

// Projects follows a process's own project relation (spec §4.8 step 1:
// "project (via the process's projects relation)").
func (s *Service) Projects(ctx context.Context, process *Resource) ([]*Resource, error) {
	return s.Related(ctx, process, "projects", TypeProject)
}

// FetchByUUID resolves entityType's HAL search-by-uuid endpoint and parses
// the result as metadataType. Used by the Exporter to load the process
// named in an experiment message by uuid rather than by a relation link
// (spec §4.8 step 1: "Load process ... ").
func (s *Service) FetchByUUID(ctx context.Context, entityType, uuid string, metadataType Type) (*Resource, error) {
	raw, err := s.client.Get(ctx, entityType+"/search/findByUuid?uuid="+uuid)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch %s %s: %w", entityType, uuid, err)
	}
	return FromRaw(raw, metadataType)
}

// FetchRawByUUID resolves entityType's HAL search-by-uuid endpoint and
// returns the undecoded document. Submission envelopes carry no
// describedBy/schema stamp, so they cannot be parsed as a Resource; the
// Staging Client reads stagingDetails straight off this raw map.
func (s *Service) FetchRawByUUID(ctx context.Context, entityType, uuid string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, entityType+"/search/findByUuid?uuid="+uuid)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch raw %s %s: %w", entityType, uuid, err)
	}
	return raw, nil
}

// SubmissionErrorDetail is the {type, title, detail} shape the Listener
// attaches to a submission when export fails (spec §6, §7).
type SubmissionErrorDetail struct {
	Type   string
	Title  string
	Detail string
}

// CreateSubmissionError posts an error entry against the submission
// identified by submissionUUID, grounded on
// terra_listener.py:create_submission_error.
func (s *Service) CreateSubmissionError(ctx context.Context, submissionUUID string, detail SubmissionErrorDetail) error {
	submission, err := s.FetchRawByUUID(ctx, "submissionEnvelopes", submissionUUID)
	if err != nil {
		return fmt.Errorf("metadata: load submission %s for error report: %w", submissionUUID, err)
	}
	href, ok := relationHrefFromSelf(submission)
	if !ok {
		return fmt.Errorf("metadata: submission %s has no self link", submissionUUID)
	}
	body := map[string]any{
		"type":   detail.Type,
		"title":  detail.Title,
		"detail": detail.Detail,
	}
	if _, err := s.client.Post(ctx, href+"/submissionErrors", body); err != nil {
		return fmt.Errorf("metadata: create submission error for %s: %w", submissionUUID, err)
	}
	return nil
}

func relationHrefFromSelf(raw map[string]any) (string, bool) {
	links, ok := raw["_links"].(map[string]any)
	if !ok {
		return "", false
	}
	self, ok := links["self"].(map[string]any)
	if !ok {
		return "", false
	}
	href, ok := self["href"].(string)
	return href, ok && href != ""
}
