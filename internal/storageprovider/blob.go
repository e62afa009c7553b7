package storageprovider

import (
	"context"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/getsentry/calltrace/internal/storageutil"
)

// Blob implements storageutil.ObjectHandler interface on top of a bucket.
type Blob struct {
	Bucket *blob.Bucket
}

// Put writes a file to the storage provider with name being the path.
func (b *Blob) Put(ctx context.Context, name string) (io.WriteCloser, error) {
	return b.Bucket.NewWriter(ctx, name, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	})
}

// Get reads a file from the storage provider with name being the path.
// If a key was not found, it will return ErrObjectNotFound.
func (b *Blob) Get(ctx context.Context, name string) (storageutil.ReadSizeCloser, error) {
	r, err := b.Bucket.NewReader(ctx, name, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, storageutil.ErrObjectNotFound
		}
		return nil, err
	}
	return r, nil
}

func (b *Blob) Close() error {
	return b.Bucket.Close()
}
