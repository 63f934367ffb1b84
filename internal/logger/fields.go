package logger

import (
	"log/slog"
	"os"
	"strconv"
)

// Standard field keys for structured logging. Use these consistently so
// log lines can be aggregated and queried.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Callers
	KeyOperation = "operation" // core operation: open, write, rename, ...
	KeyPID       = "pid"
	KeyUID       = "uid"
	KeyGID       = "gid"

	// Namespace
	KeyBranch   = "branch"
	KeySnapshot = "snapshot"
	KeyPath     = "path"
	KeyOldPath  = "old_path"
	KeyNewPath  = "new_path"
	KeyNodeID   = "node_id"
	KeyHandle   = "handle"
	KeyMode     = "mode"

	// I/O
	KeyOffset       = "offset"
	KeySize         = "size"
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"

	// Storage
	KeyContentID = "content_id"
	KeyStoreType = "store_type" // memory, hostfs, badger, tiered
	KeyKey       = "key"        // object key in the spill store
	KeyCodec     = "codec"
	KeyBucket    = "bucket"

	// Events
	KeySubscription = "subscription"
	KeyEventKind    = "event_kind"

	// Metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyCount      = "count"
)

// TraceID returns a slog.Attr for an OpenTelemetry trace ID.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for an OpenTelemetry span ID.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// Operation returns a slog.Attr for the operation name.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// PID returns a slog.Attr for a process id.
func PID(pid uint32) slog.Attr { return slog.Any(KeyPID, pid) }

// Branch returns a slog.Attr for a branch name.
func Branch(name string) slog.Attr { return slog.String(KeyBranch, name) }

// Snapshot returns a slog.Attr for a snapshot name.
func Snapshot(name string) slog.Attr { return slog.String(KeySnapshot, name) }

// Path returns a slog.Attr for a path.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// NodeID returns a slog.Attr for a node id.
func NodeID(id uint64) slog.Attr { return slog.Uint64(KeyNodeID, id) }

// Handle returns a slog.Attr for a handle id.
func Handle(h uint64) slog.Attr { return slog.Uint64(KeyHandle, h) }

// Mode formats permission bits as octal.
func Mode(m os.FileMode) slog.Attr {
	return slog.String(KeyMode, "0"+strconv.FormatUint(uint64(m.Perm()), 8))
}

// Offset returns a slog.Attr for a byte offset.
func Offset(off int64) slog.Attr { return slog.Int64(KeyOffset, off) }

// Size returns a slog.Attr for a byte size.
func Size(s int64) slog.Attr { return slog.Int64(KeySize, s) }

// ContentID returns a slog.Attr for a storage stream id.
func ContentID(id string) slog.Attr { return slog.String(KeyContentID, id) }

// StoreType returns a slog.Attr for a storage backend type.
func StoreType(t string) slog.Attr { return slog.String(KeyStoreType, t) }

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error. Nil errors produce an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a filesystem error code name.
func ErrorCode(code string) slog.Attr { return slog.String(KeyErrorCode, code) }
