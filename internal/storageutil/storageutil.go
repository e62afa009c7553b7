package storageutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

const defaultTimeout = 5 * time.Second

type ReadSizeCloser interface {
	io.Reader
	io.Closer
	Size() int64
}

// ObjectHandler provides common interface for multiple storage providers.
type ObjectHandler interface {
	// Put writes a file to the storage provider with name being the path.
	// Cancelling ctx before the writer is closed aborts the write.
	Put(ctx context.Context, name string) (io.WriteCloser, error)
	// Get reads a file from the storage provider with name being the path.
	// If a key was not found, it will return ErrObjectNotFound.
	Get(ctx context.Context, name string) (ReadSizeCloser, error)
}

// CompressedWrite encodes d as JSON and writes it lz4 compressed.
func CompressedWrite(ctx context.Context, b ObjectHandler, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	ow, err := b.Put(ctx, objectName)
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(ow)
	_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	err = json.NewEncoder(zw).Encode(d)
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		// Closing after cancel aborts the write.
		cancel()
		_ = ow.Close()
		return err
	}
	return ow.Close()
}

// UnmarshalCompressed reads compressed JSON data and unmarshals it.
func UnmarshalCompressed(ctx context.Context, b ObjectHandler, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	or, err := b.Get(ctx, objectName)
	if err != nil {
		return err
	}
	defer or.Close()
	zr := lz4.NewReader(or)
	return json.NewDecoder(zr).Decode(d)
}

// ReadRaw returns the stored bytes of an object, still compressed.
func ReadRaw(ctx context.Context, b ObjectHandler, objectName string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	or, err := b.Get(ctx, objectName)
	if err != nil {
		return nil, err
	}
	defer or.Close()
	var buf bytes.Buffer
	if size := or.Size(); size > 0 {
		buf.Grow(int(size))
	}
	if _, err := buf.ReadFrom(or); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
