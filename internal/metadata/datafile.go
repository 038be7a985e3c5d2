package metadata

import (
	"fmt"
	"net/url"
	"strings"
)

// Checksums carries the digest fields the file descriptor stamps through;
// any of them may be absent in the source document.
type Checksums struct {
	SHA1    string
	SHA256  string
	CRC32C  string
	S3ETag  string
}

// DataFile is derived from a file-typed Resource.
type DataFile struct {
	UUID        string
	DCPVersion  string
	FileName    string
	CloudURL    string
	ContentType string
	Size        int64
	Checksums   Checksums
}

// DataFileFromResource derives a DataFile from a file-typed metadata
// Resource. It requires the resource to already be classified TypeFile.
func DataFileFromResource(r *Resource) (*DataFile, error) {
	if r.MetadataType != TypeFile {
		return nil, &ParseError{Field: "metadata_type", Reason: fmt.Sprintf("expected file, got %s", r.MetadataType)}
	}
	fileName, ok := queryString(queryFileName, r.Raw)
	if !ok || fileName == "" {
		return nil, missing("content.fileName")
	}
	cloudURL, ok := queryString(queryCloudURL, r.Raw)
	if !ok || cloudURL == "" {
		return nil, missing("content.cloudUrl")
	}
	contentType, _ := queryString(queryContentType, r.Raw)
	size, _ := queryNumber(querySize, r.Raw)

	checksums := Checksums{}
	if v, ok := queryString(querySHA1, r.Raw); ok {
		checksums.SHA1 = strings.ToLower(v)
	}
	if v, ok := queryString(querySHA256, r.Raw); ok {
		checksums.SHA256 = strings.ToLower(v)
	}
	if v, ok := queryString(queryCRC32C, r.Raw); ok {
		checksums.CRC32C = strings.ToLower(v)
	}
	if v, ok := queryString(queryS3ETag, r.Raw); ok {
		checksums.S3ETag = v // left untouched, matching the source's file descriptor stamping
	}

	return &DataFile{
		UUID:        r.UUID,
		DCPVersion:  r.DCPVersion,
		FileName:    fileName,
		CloudURL:    cloudURL,
		ContentType: contentType,
		Size:        int64(size),
		Checksums:   checksums,
	}, nil
}

// SourceBucketAndKey parses CloudURL of the form scheme://bucket/key... into
// its bucket authority and the remainder of the path.
func (d *DataFile) SourceBucketAndKey() (bucket, key string, err error) {
	u, err := url.Parse(d.CloudURL)
	if err != nil {
		return "", "", fmt.Errorf("metadata: parse cloud_url %q: %w", d.CloudURL, err)
	}
	if u.Host == "" {
		return "", "", &ParseError{Field: "content.cloudUrl", Reason: "no bucket authority"}
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
