package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrNotExist is returned when no object is stored under the requested key.
var ErrNotExist = errors.New("object does not exist")

// ObjectStore is a flat key/value blob store, one bucket per instance.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

const zstdSuffix = ".zst"

type zstdFallback struct {
	next ObjectStore
	dec  *zstd.Decoder
}

// WithZstdFallback wraps a store so that a missing key is retried as `{key}.zst`
// and decompressed transparently. Keys that already end in .zst are decompressed too.
func WithZstdFallback(next ObjectStore) (ObjectStore, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("storage: zstd decoder: %w", err)
	}
	return &zstdFallback{next: next, dec: dec}, nil
}

func (z *zstdFallback) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasSuffix(key, zstdSuffix) {
		return z.getCompressed(ctx, key)
	}
	body, err := z.next.Get(ctx, key)
	if err == nil || !errors.Is(err, ErrNotExist) {
		return body, err
	}
	return z.getCompressed(ctx, key+zstdSuffix)
}

func (z *zstdFallback) getCompressed(ctx context.Context, key string) ([]byte, error) {
	raw, err := z.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	out, err := z.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress %s: %w", key, err)
	}
	return out, nil
}

func (z *zstdFallback) Put(ctx context.Context, key string, body []byte, contentType string) error {
	return z.next.Put(ctx, key, body, contentType)
}
