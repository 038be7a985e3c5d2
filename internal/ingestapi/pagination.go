package ingestapi

import "context"

// Page is one page of a HAL collection resource: the embedded items under
// a named relation, plus the href of the next page, if any.
type Page struct {
	Items []map[string]any
	Next  string
}

// TotalElements reads page.totalElements from a HAL collection envelope, as
// exposed by the export-job resource's assay-count endpoint.
func TotalElements(raw map[string]any) (int, bool) {
	page, ok := raw["page"].(map[string]any)
	if !ok {
		return 0, false
	}
	total, ok := page["totalElements"].(float64)
	if !ok {
		return 0, false
	}
	return int(total), true
}

func relationHref(subject map[string]any, relation string) (string, bool) {
	links, ok := subject["_links"].(map[string]any)
	if !ok {
		return "", false
	}
	rel, ok := links[relation].(map[string]any)
	if !ok {
		return "", false
	}
	href, ok := rel["href"].(string)
	return href, ok && href != ""
}

func extractEmbedded(raw map[string]any, relation string) []map[string]any {
	embedded, ok := raw["_embedded"].(map[string]any)
	if !ok {
		return nil
	}
	list, ok := embedded[relation].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// GetPage fetches one page of relation's embedded collection at url.
func (c *Client) GetPage(ctx context.Context, url, relation string) (Page, error) {
	raw, err := c.Get(ctx, url)
	if err != nil {
		return Page{}, err
	}
	next := ""
	if links, ok := raw["_links"].(map[string]any); ok {
		if nl, ok := links["next"].(map[string]any); ok {
			next, _ = nl["href"].(string)
		}
	}
	return Page{Items: extractEmbedded(raw, relation), Next: next}, nil
}

// RelatedIterator lazily walks a paginated relation. It is restartable via
// Reset, per spec §4.1's "lazy but fully drainable and restartable" contract.
type RelatedIterator struct {
	client   *Client
	relation string
	startURL string
	nextURL  string
	buffer   []map[string]any
	idx      int
}

// Related returns an iterator over the named relation on subject. A missing
// relation link yields an iterator that is immediately exhausted, not an
// error (spec §4.1 invariant).
func (c *Client) Related(subject map[string]any, relation string) *RelatedIterator {
	href, ok := relationHref(subject, relation)
	if !ok {
		return &RelatedIterator{client: c, relation: relation}
	}
	return &RelatedIterator{client: c, relation: relation, startURL: href, nextURL: href}
}

// Next returns the next item, or ok=false once the collection (and all its
// pages) is exhausted.
func (it *RelatedIterator) Next(ctx context.Context) (item map[string]any, ok bool, err error) {
	for it.idx >= len(it.buffer) {
		if it.nextURL == "" {
			return nil, false, nil
		}
		page, err := it.client.GetPage(ctx, it.nextURL, it.relation)
		if err != nil {
			return nil, false, err
		}
		it.buffer = page.Items
		it.idx = 0
		it.nextURL = page.Next
		if len(it.buffer) == 0 && it.nextURL == "" {
			return nil, false, nil
		}
	}
	item = it.buffer[it.idx]
	it.idx++
	return item, true, nil
}

// Reset rewinds the iterator to its initial page so it can be re-drained.
func (it *RelatedIterator) Reset() {
	it.nextURL = it.startURL
	it.buffer = nil
	it.idx = 0
}

// NewFakeIterator builds an already-fully-buffered RelatedIterator over a
// fixed set of items, with no client and no further pages. It exists so
// collaborators of Client.Related (internal/metadata's Service tests, in
// particular) can substitute canned relation results without an HTTP server.
func NewFakeIterator(items []map[string]any) *RelatedIterator {
	return &RelatedIterator{buffer: items}
}
