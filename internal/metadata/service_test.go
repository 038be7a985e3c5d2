package metadata

import (
	"context"

	"github.com/ebi-ait/ingest-exporter/internal/ingestapi"
)

// fakeClient is a minimal relatedClient used only by this package's tests;
// it does not touch the network.
type fakeClient struct {
	resources map[string]map[string]any
	related   map[string][]map[string]any
	posts     map[string]any
}

func (f *fakeClient) Get(_ context.Context, url string) (map[string]any, error) {
	return f.resources[url], nil
}

func (f *fakeClient) Post(_ context.Context, url string, body any) (map[string]any, error) {
	if f.posts == nil {
		f.posts = map[string]any{}
	}
	f.posts[url] = body
	return nil, nil
}

func (f *fakeClient) Related(subject map[string]any, relation string) *ingestapi.RelatedIterator {
	// The real client drives this off the subject's raw _links; the fake
	// keys directly by relation name for test simplicity.
	id, _ := subject["uuid"].(map[string]any)["uuid"].(string)
	return ingestapi.NewFakeIterator(f.related[id+":"+relation])
}
