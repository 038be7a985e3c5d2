// Package destination is the Destination Store Client: the idempotent
// object-store write/read primitives the Staging Client and Exporter build
// on (spec §4.5), backed by Google Cloud Storage.
package destination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/ebi-ait/ingest-exporter/internal/backoff"
	"github.com/ebi-ait/ingest-exporter/pkg/resilience"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

// exportCompletedKey is the object-metadata key the store uses as the
// cross-worker "this upload is durable" marker.
const exportCompletedKey = "export_completed"

// ErrUploadPolling is returned by AssertUploaded when the completion marker
// never appears within the polling ceiling.
var ErrUploadPolling = errors.New("destination: upload verification exceeded maximum wait time")

// bucketHandle is the slice of *storage.BucketHandle the Store depends on,
// narrowed to an interface so tests can fake GCS without a live bucket.
type bucketHandle interface {
	Object(name string) objectHandle
}

type objectHandle interface {
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
	NewWriter(ctx context.Context, generationMatch int64) (io.WriteCloser, error)
	Update(ctx context.Context, metadata map[string]string) error
	Rename(ctx context.Context, newName string) error
}

// Store is the GCS-backed Destination Store Client.
type Store struct {
	bucket      bucketHandle
	prefix      string
	log         *zap.Logger
	breaker     *resilience.Breaker
	assertPoll  backoff.Config
	markPoll    backoff.Config
}

// New builds a Store over the named bucket and key prefix.
func New(client *storage.Client, bucketName, prefix string, log *zap.Logger) *Store {
	return &Store{
		bucket:     &gcsBucket{handle: client.Bucket(bucketName)},
		prefix:     prefix,
		log:        log,
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		assertPoll: backoff.Config{Initial: 100 * time.Millisecond, MaxInterval: time.Hour, MaxElapsedTime: time.Hour},
		markPoll:   backoff.Config{Initial: time.Second, MaxInterval: 10 * time.Second, MaxElapsedTime: 60 * time.Second},
	}
}

func (s *Store) destKey(key string) string {
	return fmt.Sprintf("%s/%s", s.prefix, key)
}

// Write is the idempotent write primitive (spec §4.5):
//  1. If the object already carries export_completed=true, return.
//  2. Otherwise attempt an "only if absent" upload.
//  3. On precondition failure, another worker raced ahead: fall back to
//     AssertUploaded.
//  4. On successful upload, mark export_completed=true.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	dest := s.destKey(key)
	obj := s.bucket.Object(dest)

	if attrs, err := obj.Attrs(ctx); err == nil {
		if attrs.Metadata[exportCompletedKey] == "true" {
			writesTotal.WithLabelValues("already_complete").Inc()
			return nil
		}
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		writesTotal.WithLabelValues("stat_error").Inc()
		return fmt.Errorf("destination: stat %s: %w", dest, err)
	}

	w, err := obj.NewWriter(ctx, 0)
	if err != nil {
		writesTotal.WithLabelValues("open_error").Inc()
		return fmt.Errorf("destination: open writer for %s: %w", dest, err)
	}
	_, copyErr := io.Copy(w, bytes.NewReader(data))
	closeErr := w.Close()

	if isPreconditionFailed(copyErr) || isPreconditionFailed(closeErr) {
		writesTotal.WithLabelValues("precondition_failed").Inc()
		return s.AssertUploaded(ctx, key)
	}
	if copyErr != nil {
		writesTotal.WithLabelValues("write_error").Inc()
		return fmt.Errorf("destination: write %s: %w", dest, copyErr)
	}
	if closeErr != nil {
		writesTotal.WithLabelValues("write_error").Inc()
		return fmt.Errorf("destination: finalize %s: %w", dest, closeErr)
	}

	if err := s.markComplete(ctx, obj, dest); err != nil {
		writesTotal.WithLabelValues("mark_complete_error").Inc()
		return err
	}
	writesTotal.WithLabelValues("uploaded").Inc()
	return nil
}

func (s *Store) markComplete(ctx context.Context, obj objectHandle, dest string) error {
	return backoff.Retry(ctx, s.markPoll, func(ctx context.Context) error {
		err := s.breaker.Call(ctx, func(ctx context.Context) error {
			return obj.Update(ctx, map[string]string{exportCompletedKey: "true"})
		})
		if err != nil && isRetryableUnavailable(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("destination: mark complete %s: %w", dest, err))
		}
		return nil
	})
}

// AssertUploaded polls key's metadata with exponential backoff (initial
// 100ms, doubling) up to a 1-hour ceiling, returning once export_completed
// is true.
func (s *Store) AssertUploaded(ctx context.Context, key string) error {
	dest := s.destKey(key)
	obj := s.bucket.Object(dest)

	err := backoff.Poll(ctx, s.assertPoll, func(ctx context.Context) (bool, error) {
		attrs, err := obj.Attrs(ctx)
		if err != nil {
			return false, err
		}
		return attrs.Metadata[exportCompletedKey] == "true", nil
	})
	if errors.Is(err, backoff.ErrTimeout) {
		pollingTotal.WithLabelValues("timeout").Inc()
		return ErrUploadPolling
	}
	if err == nil {
		pollingTotal.WithLabelValues("confirmed").Inc()
	}
	return err
}

// FileExists reports whether key exists and carries export_completed=true.
func (s *Store) FileExists(ctx context.Context, key string) (bool, error) {
	attrs, err := s.bucket.Object(s.destKey(key)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("destination: stat %s: %w", key, err)
	}
	return attrs.Metadata[exportCompletedKey] == "true", nil
}

// Move renames sourceKey to destKey within the bucket and marks the
// resulting blob export_completed=true. sourceKey is taken as already
// prefix-qualified (the upload area's own key layout); destKey is not.
func (s *Store) Move(ctx context.Context, sourceKey, destKey string) error {
	dest := s.destKey(destKey)
	if err := s.bucket.Object(sourceKey).Rename(ctx, dest); err != nil {
		return fmt.Errorf("destination: move %s -> %s: %w", sourceKey, dest, err)
	}
	return s.markComplete(ctx, s.bucket.Object(dest), dest)
}

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 412
	}
	return false
}

func isRetryableUnavailable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 503
	}
	return true
}
