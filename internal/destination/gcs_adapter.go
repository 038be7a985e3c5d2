package destination

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// gcsBucket adapts a real *storage.BucketHandle to the bucketHandle
// interface the Store depends on.
type gcsBucket struct {
	handle *storage.BucketHandle
}

func (b *gcsBucket) Object(name string) objectHandle {
	return &gcsObject{bucket: b.handle, name: name, handle: b.handle.Object(name)}
}

// gcsObject adapts a real *storage.ObjectHandle, translating the Store's
// narrow verbs (conditional write, metadata patch, rename) onto the real
// client's API (generation-match preconditions, ObjectAttrsToUpdate,
// copy-then-delete — GCS has no native rename).
type gcsObject struct {
	bucket *storage.BucketHandle
	name   string
	handle *storage.ObjectHandle
}

func (o *gcsObject) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return o.handle.Attrs(ctx)
}

func (o *gcsObject) NewWriter(ctx context.Context, generationMatch int64) (io.WriteCloser, error) {
	h := o.handle.If(storage.Conditions{DoesNotExist: generationMatch == 0})
	return h.NewWriter(ctx), nil
}

func (o *gcsObject) Update(ctx context.Context, metadata map[string]string) error {
	_, err := o.handle.Update(ctx, storage.ObjectAttrsToUpdate{Metadata: metadata})
	return err
}

func (o *gcsObject) Rename(ctx context.Context, newName string) error {
	dst := o.bucket.Object(newName)
	if _, err := dst.CopierFrom(o.handle).Run(ctx); err != nil {
		return err
	}
	return o.handle.Delete(ctx)
}
