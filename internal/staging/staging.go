// Package staging is the Staging Client: it produces object keys,
// serializes metadata/descriptor/link documents with schema stamping, and
// streams the bytes to the Destination Store Client, plus delegates bulk
// data-file movement to the Transfer Orchestrator (spec §4.4).
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/ebi-ait/ingest-exporter/internal/graph"
	"github.com/ebi-ait/ingest-exporter/internal/metadata"
	"github.com/ebi-ait/ingest-exporter/internal/schema"
	"github.com/ebi-ait/ingest-exporter/internal/transfer"
)

// objectWriter is the slice of destination.Store the Client depends on.
type objectWriter interface {
	Write(ctx context.Context, key string, data []byte) error
}

// transferrer is the slice of transfer.Orchestrator the Client depends on.
type transferrer interface {
	EnsureTransfer(ctx context.Context, sourceBucket, sourcePath, project, exportJobID string) (transfer.JobSpec, bool, error)
}

// schemaResolver is the slice of schema.Service the Client depends on.
type schemaResolver interface {
	Latest(ctx context.Context, kind schema.Kind) (schema.Info, error)
}

// Client is the staging client writing into a project-prefixed area of the
// destination bucket.
type Client struct {
	store  objectWriter
	xfer   transferrer
	schema schemaResolver
}

// ClientBuilder validates its dependencies before constructing a Client, in
// place of the source's hand-written "if not x: raise" builder.
type ClientBuilder struct {
	Store  objectWriter   `validate:"required"`
	Xfer   transferrer    `validate:"required"`
	Schema schemaResolver `validate:"required"`
}

// NewClientBuilder returns an empty builder to be filled in with With*.
func NewClientBuilder() *ClientBuilder { return &ClientBuilder{} }

func (b *ClientBuilder) WithStore(s objectWriter) *ClientBuilder {
	b.Store = s
	return b
}

func (b *ClientBuilder) WithTransfer(t transferrer) *ClientBuilder {
	b.Xfer = t
	return b
}

func (b *ClientBuilder) WithSchema(s schemaResolver) *ClientBuilder {
	b.Schema = s
	return b
}

// Build validates that every dependency has been set and returns a Client.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := validator.New().Struct(b); err != nil {
		return nil, errors.Wrap(err, "staging: incomplete client builder")
	}
	return &Client{store: b.Store, xfer: b.Xfer, schema: b.Schema}, nil
}

// FileDescriptor is the schema-stamped envelope written alongside every
// file's metadata document (spec §6).
type FileDescriptor struct {
	FileUUID    string
	FileVersion string
	FileName    string
	ContentType string
	Size        int64
	Checksums   metadata.Checksums
}

// FileDescriptorFromDataFile builds the descriptor's file_name from
// {uuid}_{dcp_version}_{file_name}, matching the source's naming rule.
func FileDescriptorFromDataFile(df *metadata.DataFile, version string) FileDescriptor {
	return FileDescriptor{
		FileUUID:    df.UUID,
		FileVersion: version,
		FileName:    df.UUID + "_" + df.DCPVersion + "_" + df.FileName,
		ContentType: df.ContentType,
		Size:        df.Size,
		Checksums:   df.Checksums,
	}
}

// ToDict serializes the descriptor to the shape the destination store
// expects, before describedBy/schema_version are stamped on top.
func (fd FileDescriptor) ToDict() map[string]any {
	return map[string]any{
		"file_id":      fd.FileUUID,
		"file_version": fd.FileVersion,
		"file_name":    fd.FileName,
		"content_type": fd.ContentType,
		"size":         fd.Size,
		"sha1":         fd.Checksums.SHA1,
		"sha256":       fd.Checksums.SHA256,
		"crc32c":       fd.Checksums.CRC32C,
		"s3_etag":      fd.Checksums.S3ETag,
		"schema_type":  "file_descriptor",
	}
}

func metadataKey(project, concreteType, uuid, dcpVersion string) string {
	return project + "/metadata/" + concreteType + "/" + uuid + "_" + dcpVersion + ".json"
}

func descriptorKey(project, concreteType, uuid, dcpVersion string) string {
	return project + "/descriptors/" + concreteType + "/" + uuid + "_" + dcpVersion + ".json"
}

func linksKey(project, processUUID, processVersion string) string {
	return project + "/links/" + processUUID + "_" + processVersion + "_" + project + ".json"
}

// WriteMetadata writes m's content (with provenance injected) under
// {project}/metadata/{concrete_type}/{uuid}_{dcp_version}.json, and, for
// file-typed resources, additionally writes the file descriptor.
func (c *Client) WriteMetadata(ctx context.Context, m *metadata.Resource, project string) error {
	key := metadataKey(project, m.ConcreteType, m.UUID, m.DCPVersion)
	data, err := json.Marshal(m.ContentWithProvenance())
	if err != nil {
		return errors.Wrap(err, "staging: marshal metadata")
	}
	if err := c.store.Write(ctx, key, data); err != nil {
		return errors.Wrapf(err, "staging: write metadata %s", key)
	}

	if m.MetadataType == metadata.TypeFile {
		return c.WriteFileDescriptor(ctx, m, project)
	}
	return nil
}

// WriteFileDescriptor writes m's FileDescriptor under
// {project}/descriptors/{concrete_type}/{uuid}_{dcp_version}.json.
func (c *Client) WriteFileDescriptor(ctx context.Context, m *metadata.Resource, project string) error {
	df, err := metadata.DataFileFromResource(m)
	if err != nil {
		return errors.Wrap(err, "staging: derive data file")
	}
	info, err := c.schema.Latest(ctx, schema.KindFileDescriptor)
	if err != nil {
		return errors.Wrap(err, "staging: resolve file descriptor schema")
	}

	fd := FileDescriptorFromDataFile(df, m.DCPVersion)
	doc := fd.ToDict()
	doc["describedBy"] = info.SchemaURL
	doc["schema_version"] = info.SchemaVersion

	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "staging: marshal file descriptor")
	}
	key := descriptorKey(project, m.ConcreteType, m.UUID, m.DCPVersion)
	if err := c.store.Write(ctx, key, data); err != nil {
		return errors.Wrapf(err, "staging: write file descriptor %s", key)
	}
	return nil
}

// WriteLinks writes linkSet, schema-stamped, under
// {project}/links/{process_uuid}_{process_version}_{project}.json.
func (c *Client) WriteLinks(ctx context.Context, linkSet *graph.LinkSet, processUUID, processVersion, project string) error {
	info, err := c.schema.Latest(ctx, schema.KindLinks)
	if err != nil {
		return errors.Wrap(err, "staging: resolve links schema")
	}

	doc := linkSet.ToDict()
	doc["describedBy"] = info.SchemaURL
	doc["schema_version"] = info.SchemaVersion
	doc["schema_type"] = "links"

	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "staging: marshal links")
	}
	key := linksKey(project, processUUID, processVersion)
	if err := c.store.Write(ctx, key, data); err != nil {
		return errors.Wrapf(err, "staging: write links %s", key)
	}
	return nil
}

// TransferDataFiles parses submission's staging-area location and delegates
// to the Transfer Orchestrator to move the submission's upload area into
// {project}/data/.
func (c *Client) TransferDataFiles(ctx context.Context, submissionRaw map[string]any, project, exportJobID string) (transfer.JobSpec, bool, error) {
	bucket, path, err := uploadAreaBucketAndKey(submissionRaw)
	if err != nil {
		return transfer.JobSpec{}, false, errors.Wrap(err, "staging: parse staging area location")
	}
	spec, created, err := c.xfer.EnsureTransfer(ctx, bucket, path, project, exportJobID)
	if err != nil {
		return transfer.JobSpec{}, false, errors.Wrap(err, "staging: ensure transfer")
	}
	return spec, created, nil
}

// uploadAreaBucketAndKey parses submission.stagingDetails.stagingAreaLocation.value
// of the form "<scheme>//<bucket>/<key>[/...]" into (bucket, first_path_segment).
func uploadAreaBucketAndKey(submissionRaw map[string]any) (bucket, path string, err error) {
	details, _ := submissionRaw["stagingDetails"].(map[string]any)
	location, _ := details["stagingAreaLocation"].(map[string]any)
	value, _ := location["value"].(string)
	if value == "" {
		return "", "", errors.New("staging: missing stagingDetails.stagingAreaLocation.value")
	}

	parts := strings.SplitN(value, "//", 2)
	if len(parts) != 2 {
		return "", "", errors.New(fmt.Sprintf("staging: malformed staging area location %q", value))
	}
	bucketAndKey := strings.SplitN(parts[1], "/", 2)
	if len(bucketAndKey) != 2 {
		return "", "", errors.New(fmt.Sprintf("staging: malformed staging area location %q", value))
	}
	firstSegment := strings.SplitN(bucketAndKey[1], "/", 2)[0]
	return bucketAndKey[0], firstSegment, nil
}
