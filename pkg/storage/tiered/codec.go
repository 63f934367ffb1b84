package tiered

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to a spilled stream. Values are
// stored in the frame header, so they must not change.
type Codec uint8

const (
	// CodecNone stores bytes as-is.
	CodecNone Codec = 0

	// CodecLZ4 is LZ4 block compression. Fast, modest ratio.
	CodecLZ4 Codec = 1

	// CodecZstd is zstd at the default level. Better ratio for text.
	CodecZstd Codec = 2
)

// String returns the configuration name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCodec parses a codec name as used in configuration.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown spill codec: %q", name)
	}
}

// errIncompressible means the encoded output was not smaller than the
// input. Callers fall back to CodecNone.
var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("tiered: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("tiered: zstd decoder initialization failed: " + err.Error())
	}
}

// compress encodes data with c. It returns errIncompressible when the
// result would not save space. LZ4 output may alias scratch.
func compress(c Codec, data, scratch []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil

	case CodecLZ4:
		dst := scratch
		if bound := lz4.CompressBlockBound(len(data)); len(dst) < bound {
			dst = make([]byte, bound)
		}
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil

	case CodecZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported codec: %d", c)
	}
}

// decompress reverses compress. size must be the exact original length.
func decompress(c Codec, data []byte, size int) ([]byte, error) {
	switch c {
	case CodecNone:
		if len(data) != size {
			return nil, fmt.Errorf("raw payload: size %d does not match expected %d", len(data), size)
		}
		return data, nil

	case CodecLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return dst, nil

	case CodecZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported codec: %d", c)
	}
}
