package cachetier

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// maxBodySize bounds decompression of a stored body.
const maxBodySize = 64 << 20

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBodySize))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// compressBody zstd-compresses a response body for storage.
func compressBody(body []byte) ([]byte, error) {
	enc, _, err := zstdCodecs()
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	return enc.EncodeAll(body, make([]byte, 0, len(body)/2)), nil
}

// decompressBody reverses compressBody and checks the recorded size.
func decompressBody(compressed []byte, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	_, dec, err := zstdCodecs()
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	body, err := dec.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(body) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(body), size)
	}
	return body, nil
}

// ETag returns a strong entity tag derived from the BLAKE3 digest of body.
func ETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
