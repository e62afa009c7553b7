package storageprovider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dgraph-io/badger/v4"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/getsentry/calltrace/internal/storageutil"
)

const BadgerScheme = "badger"

// Provider is an object handler owning its underlying storage.
type Provider interface {
	storageutil.ObjectHandler
	Close() error
}

// Open returns the provider for storageURL. badger:///path opens an embedded
// database in path, badger://memory an in-memory one. Any other URL is
// opened as a bucket (file://, mem://, gs://).
func Open(ctx context.Context, storageURL string) (Provider, error) {
	u, err := url.Parse(storageURL)
	if err != nil {
		return nil, fmt.Errorf("storageprovider: invalid storage url %q: %w", storageURL, err)
	}
	if u.Scheme == BadgerScheme {
		opts := badger.DefaultOptions(u.Path).WithLogger(nil)
		if u.Host == "memory" {
			opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
		}
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("storageprovider: %w", err)
		}
		return &Badger{DB: db}, nil
	}
	bucket, err := blob.OpenBucket(ctx, storageURL)
	if err != nil {
		return nil, fmt.Errorf("storageprovider: %w", err)
	}
	return &Blob{Bucket: bucket}, nil
}
