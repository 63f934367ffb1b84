package tiered

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/marmos91/agentfs/pkg/bufpool"
)

// Spilled stream frame layout:
//
//	offset  size  field
//	0       4     magic "AFS1"
//	4       1     codec
//	5       8     logical size (BE)
//	13      32    BLAKE3 digest of the logical bytes
//	45      ...   payload
const (
	frameMagic      = "AFS1"
	frameHeaderSize = 4 + 1 + 8 + 32
)

// ErrCorruptFrame is returned when a spilled object fails validation.
var ErrCorruptFrame = errors.New("corrupt spilled stream")

// encodeFrame compresses data with c (falling back to raw when it does not
// shrink) and wraps it in a checksummed frame.
func encodeFrame(c Codec, data []byte) ([]byte, error) {
	var scratch []byte
	if c == CodecLZ4 {
		scratch = bufpool.Get(lz4.CompressBlockBound(len(data)))
		defer bufpool.Put(scratch)
	}

	payload, err := compress(c, data, scratch)
	if errors.Is(err, errIncompressible) || len(data) == 0 {
		c, payload, err = CodecNone, data, nil
	}
	if err != nil {
		return nil, err
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	copy(frame, frameMagic)
	frame[4] = byte(c)
	binary.BigEndian.PutUint64(frame[5:13], uint64(len(data)))
	sum := blake3.Sum256(data)
	copy(frame[13:45], sum[:])
	copy(frame[frameHeaderSize:], payload)
	return frame, nil
}

// decodeFrame validates a frame and returns the logical bytes.
func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize || string(frame[:4]) != frameMagic {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptFrame)
	}
	c := Codec(frame[4])
	size := binary.BigEndian.Uint64(frame[5:13])
	if size > uint64(^uint(0)>>1) {
		return nil, fmt.Errorf("%w: size %d out of range", ErrCorruptFrame, size)
	}

	data, err := decompress(c, frame[frameHeaderSize:], int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	if sum := blake3.Sum256(data); string(sum[:]) != string(frame[13:45]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptFrame)
	}
	return data, nil
}
