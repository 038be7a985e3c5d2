package metadata

import "github.com/itchyny/gojq"

// The raw metadata document is effectively schema-less to the core; only a
// small fixed surface is ever read from it. Each query below is compiled
// once at package init instead of re-parsed per document.
var (
	queryUUID        = mustParse(".uuid.uuid")
	queryDCPVersion  = mustParse(".dcpVersion")
	queryDescribedBy = mustParse(".content.describedBy")
	querySubmitted   = mustParse(".submissionDate")
	queryUpdated     = mustParse(".updateDate")

	queryFileName    = mustParse(".content.fileName")
	queryCloudURL    = mustParse(".content.cloudUrl")
	queryContentType = mustParse(".content.contentType")
	querySize        = mustParse(".content.size")
	querySHA1        = mustParse(".content.checksums.sha1")
	querySHA256      = mustParse(".content.checksums.sha256")
	queryCRC32C      = mustParse(".content.checksums.crc32c")
	queryS3ETag      = mustParse(".content.checksums.s3Etag")
)

func mustParse(q string) *gojq.Query {
	parsed, err := gojq.Parse(q)
	if err != nil {
		panic("metadata: invalid built-in query " + q + ": " + err.Error())
	}
	return parsed
}

func queryOne(query *gojq.Query, input any) (any, bool) {
	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok || v == nil {
		return nil, false
	}
	if _, isErr := v.(error); isErr {
		return nil, false
	}
	return v, true
}

func queryString(query *gojq.Query, input any) (string, bool) {
	v, ok := queryOne(query, input)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func queryNumber(query *gojq.Query, input any) (float64, bool) {
	v, ok := queryOne(query, input)
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}
