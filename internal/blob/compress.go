package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use via EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blob: zstd decoder initialization failed: " + err.Error())
	}
}

// compressedSuffix marks a location holding a zstd frame. The decode path is
// chosen by location, never by sniffing content.
const compressedSuffix = ".zst"

// CompressedStore stores zstd frames in an inner Store under location+".zst"
// and decodes them on read. Blobs written before compression was enabled stay
// at their plain location and are returned as stored.
type CompressedStore struct {
	inner Store
}

// NewCompressedStore wraps inner.
func NewCompressedStore(inner Store) *CompressedStore {
	return &CompressedStore{inner: inner}
}

func (s *CompressedStore) Put(ctx context.Context, location string, data []byte) error {
	return s.inner.Put(ctx, location+compressedSuffix, zstdEncoder.EncodeAll(data, nil))
}

func (s *CompressedStore) Get(ctx context.Context, location string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, location+compressedSuffix)
	if errors.Is(err, ErrNotFound) {
		return s.inner.Get(ctx, location)
	}
	if err != nil {
		return nil, err
	}
	data, err := zstdDecoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress %q: %w", location, err)
	}
	return data, nil
}

func (s *CompressedStore) Exists(ctx context.Context, location string) (bool, error) {
	ok, err := s.inner.Exists(ctx, location+compressedSuffix)
	if err != nil || ok {
		return ok, err
	}
	return s.inner.Exists(ctx, location)
}

// Delete removes both the compressed and the plain blob at location.
func (s *CompressedStore) Delete(ctx context.Context, location string) error {
	if err := s.inner.Delete(ctx, location+compressedSuffix); err != nil {
		return err
	}
	return s.inner.Delete(ctx, location)
}

func (s *CompressedStore) Close() error { return s.inner.Close() }

// UsageBytes reports the inner store's usage.
func (s *CompressedStore) UsageBytes() (int64, error) {
	r, ok := s.inner.(UsageReporter)
	if !ok {
		return 0, ErrUsageUnknown
	}
	return r.UsageBytes()
}
