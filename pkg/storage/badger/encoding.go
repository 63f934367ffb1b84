package badger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/marmos91/agentfs/pkg/storage"
)

// ============================================================================
// Key Namespace
// ============================================================================
//
// Data Type      Prefix  Key Format                 Value
// ===========================================================================
// Stream header  "h:"    h:<id>                     streamHeader (CBOR)
// Stream chunk   "k:"    k:<id>:<chunk index BE64>  raw bytes (<= chunk size)
//
// A missing chunk inside the stream length reads as zeros, so sparse
// writes and truncate growth never materialize zero chunks.

const (
	prefixHeader = "h:"
	prefixChunk  = "k:"
)

func keyHeader(id storage.ContentID) []byte {
	return []byte(prefixHeader + string(id))
}

func keyChunkPrefix(id storage.ContentID) []byte {
	return []byte(prefixChunk + string(id) + ":")
}

func keyChunk(id storage.ContentID, idx uint64) []byte {
	prefix := keyChunkPrefix(id)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], idx)
	return key
}

// chunkIndex extracts the chunk index from a chunk key.
func chunkIndex(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// streamHeader is the per-stream metadata record.
type streamHeader struct {
	Size      int64     `cbor:"1,keyasint"`
	ChunkSize uint32    `cbor:"2,keyasint"`
	Created   time.Time `cbor:"3,keyasint"`
}

// Headers use Core Deterministic Encoding so identical headers encode to
// identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("badger: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("badger: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeHeader(h *streamHeader) ([]byte, error) {
	data, err := encMode.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream header: %w", err)
	}
	return data, nil
}

func decodeHeader(data []byte) (*streamHeader, error) {
	var h streamHeader
	if err := decMode.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode stream header: %w", err)
	}
	return &h, nil
}
