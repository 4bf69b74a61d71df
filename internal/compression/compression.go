// Package compression unpacks compressed frame payloads.
package compression

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// maxDecoded bounds a single decoded payload. Flow frames are 4 KiB; this
// leaves room for larger debug frames without trusting the sender.
const maxDecoded = 16 << 20

var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxDecoded))

func Decompress(encoded []byte, algorithm string) ([]byte, error) {
	if len(encoded) == 0 {
		return []byte{}, nil
	}
	switch normalize(algorithm) {
	case "zstd":
		out, err := zstdDecoder.DecodeAll(encoded, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	case "s2":
		n, err := s2.DecodedLen(encoded)
		if err != nil {
			return nil, fmt.Errorf("s2 decode: %w", err)
		}
		if n > maxDecoded {
			return nil, fmt.Errorf("s2 payload too large: %d bytes", n)
		}
		out, err := s2.Decode(nil, encoded)
		if err != nil {
			return nil, fmt.Errorf("s2 decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
}

// Compress is the inverse of Decompress, used by frame producers and tests.
func Compress(raw []byte, algorithm string) ([]byte, error) {
	switch normalize(algorithm) {
	case "zstd":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	case "s2":
		return s2.Encode(nil, raw), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
}

func normalize(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "zstd", "zstandard":
		return "zstd"
	case "s2", "snappy-s2":
		return "s2"
	default:
		return value
	}
}
