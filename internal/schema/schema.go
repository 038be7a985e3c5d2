// Package schema resolves the latest schema URL/version for the documents
// the Staging Client stamps (links documents and file descriptors), caching
// results with a TTL (spec §4.2).
package schema

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Kind is one of the two schema kinds the Staging Client stamps.
type Kind string

const (
	KindLinks          Kind = "links"
	KindFileDescriptor Kind = "file_descriptor"
)

// Info is the resolved schema pointer stamped onto a written document.
type Info struct {
	SchemaURL     string
	SchemaVersion string
}

// ParseError reports that the registry's response for kind could not be
// parsed into a schema Info.
type ParseError struct {
	Kind   Kind
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.Kind, e.Reason)
}

type fetcher interface {
	Get(ctx context.Context, url string) (map[string]any, error)
}

type cacheEntry struct {
	info      Info
	expiresAt time.Time
}

// Service resolves and caches the latest schema for links/file_descriptor
// documents. The cache is a read-mostly map guarded by a mutex, with an
// injectable clock so tests can exercise expiry deterministically — the
// same shape pkg/resilience uses for its circuit breaker and rate limiter.
type Service struct {
	client  fetcher
	baseURL string
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[Kind]cacheEntry
}

// NewService builds a Service querying baseURL's schema search endpoint,
// caching results for ttl.
func NewService(client fetcher, baseURL string, ttl time.Duration) *Service {
	return &Service{
		client:  client,
		baseURL: baseURL,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[Kind]cacheEntry),
	}
}

// Latest returns {schema_url, schema_version} for kind, querying the
// registry on cache miss or expiry.
func (s *Service) Latest(ctx context.Context, kind Kind) (Info, error) {
	if info, ok := s.cached(kind); ok {
		return info, nil
	}
	info, err := s.query(ctx, kind)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	s.cache[kind] = cacheEntry{info: info, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return info, nil
}

func (s *Service) cached(kind Kind) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[kind]
	if !ok || !s.now().Before(entry.expiresAt) {
		return Info{}, false
	}
	return entry.info, true
}

func (s *Service) query(ctx context.Context, kind Kind) (Info, error) {
	url := fmt.Sprintf(
		"%s/schemas/search?latestOnly=true&highLevelEntity=system&domainEntity=&concreteEntity=%s",
		s.baseURL, kind,
	)
	raw, err := s.client.Get(ctx, url)
	if err != nil {
		return Info{}, fmt.Errorf("schema: query %s: %w", kind, err)
	}
	return parseSearchResponse(raw, kind)
}

func parseSearchResponse(raw map[string]any, kind Kind) (Info, error) {
	embedded, _ := raw["_embedded"].(map[string]any)
	if embedded == nil {
		return Info{}, &ParseError{Kind: kind, Reason: "no _embedded in schema search response"}
	}
	list, _ := embedded["schemas"].([]any)
	if len(list) == 0 {
		return Info{}, &ParseError{Kind: kind, Reason: "no schema found"}
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return Info{}, &ParseError{Kind: kind, Reason: "malformed schema entry"}
	}
	url, _ := first["url"].(string)
	version, _ := first["version"].(string)
	if url == "" || version == "" {
		return Info{}, &ParseError{Kind: kind, Reason: "missing url or version"}
	}
	return Info{SchemaURL: url, SchemaVersion: version}, nil
}
