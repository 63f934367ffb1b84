package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for core operations. They follow OpenTelemetry semantic
// conventions where one exists and use the "fs." prefix otherwise.
const (
	// ========================================================================
	// Caller attributes
	// ========================================================================
	AttrPID = "process.pid"
	AttrUID = "user.uid"
	AttrGID = "user.gid"

	// ========================================================================
	// Namespace attributes
	// ========================================================================
	AttrOperation = "fs.operation" // open, write, rename, ...
	AttrBranch    = "fs.branch"
	AttrSnapshot  = "fs.snapshot"
	AttrPath      = "fs.path"
	AttrNewPath   = "fs.new_path" // rename destination, symlink path
	AttrNodeID    = "fs.node_id"
	AttrHandle    = "fs.handle"
	AttrMode      = "fs.mode"
	AttrXattr     = "fs.xattr"

	// ========================================================================
	// I/O attributes
	// ========================================================================
	AttrOffset     = "fs.offset"
	AttrCount      = "fs.count" // bytes requested
	AttrSize       = "fs.size"
	AttrBytesRead  = "fs.bytes_read"
	AttrBytesWrite = "fs.bytes_written"
	AttrStatus     = "fs.status" // error code, empty on success

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrContentID = "content.id"
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
	AttrRegion    = "storage.region"
	AttrCodec     = "storage.codec"
)

// Span name prefixes.
const (
	// SpanVFS prefixes data-path operations: "vfs.open", "vfs.write", ...
	SpanVFS = "vfs."

	// SpanControl prefixes control-plane operations: "control.snapshot_create".
	SpanControl = "control."

	// SpanStorage prefixes backend calls made on behalf of an operation.
	SpanStorage = "storage."
)

// PID returns an attribute for the calling process id.
func PID(pid uint32) attribute.KeyValue {
	return attribute.Int64(AttrPID, int64(pid))
}

// UID returns an attribute for user ID
func UID(uid uint32) attribute.KeyValue {
	return attribute.Int64(AttrUID, int64(uid))
}

// GID returns an attribute for group ID
func GID(gid uint32) attribute.KeyValue {
	return attribute.Int64(AttrGID, int64(gid))
}

// Operation returns an attribute for the core operation name.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Branch returns an attribute for a branch id.
func Branch(id string) attribute.KeyValue {
	return attribute.String(AttrBranch, id)
}

// Snapshot returns an attribute for a snapshot id.
func Snapshot(id string) attribute.KeyValue {
	return attribute.String(AttrSnapshot, id)
}

// Path returns an attribute for a filesystem path.
func Path(p string) attribute.KeyValue {
	return attribute.String(AttrPath, p)
}

// NewPath returns an attribute for the second path of rename and symlink.
func NewPath(p string) attribute.KeyValue {
	return attribute.String(AttrNewPath, p)
}

// NodeID returns an attribute for a node id.
func NodeID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrNodeID, int64(id))
}

// Handle returns an attribute for an open handle id.
func Handle(h uint64) attribute.KeyValue {
	return attribute.Int64(AttrHandle, int64(h))
}

// Mode returns an attribute for mode bits, formatted in octal.
func Mode(mode uint32) attribute.KeyValue {
	return attribute.String(AttrMode, fmt.Sprintf("%04o", mode))
}

// Xattr returns an attribute for an extended attribute name.
func Xattr(name string) attribute.KeyValue {
	return attribute.String(AttrXattr, name)
}

// Offset returns an attribute for an I/O offset.
func Offset(off int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, off)
}

// Count returns an attribute for a requested byte count.
func Count(n int) attribute.KeyValue {
	return attribute.Int(AttrCount, n)
}

// Size returns an attribute for a file size.
func Size(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// BytesRead returns an attribute for bytes actually read.
func BytesRead(n int) attribute.KeyValue {
	return attribute.Int(AttrBytesRead, n)
}

// BytesWritten returns an attribute for bytes actually written.
func BytesWritten(n int) attribute.KeyValue {
	return attribute.Int(AttrBytesWrite, n)
}

// Status returns an attribute for an operation's error code.
func Status(code string) attribute.KeyValue {
	return attribute.String(AttrStatus, code)
}

// ContentID returns an attribute for content ID
func ContentID(id string) attribute.KeyValue {
	return attribute.String(AttrContentID, id)
}

// StoreType returns an attribute for the storage backend type.
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Bucket returns an attribute for storage bucket
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for storage key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for a cloud region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// Codec returns an attribute for a spill codec.
func Codec(name string) attribute.KeyValue {
	return attribute.String(AttrCodec, name)
}

// StartVFSSpan starts a span for a data-path operation issued by pid.
func StartVFSSpan(ctx context.Context, operation string, pid uint32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Operation(operation),
		PID(pid),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanVFS+operation, trace.WithAttributes(allAttrs...))
}

// StartControlSpan starts a span for a control-plane operation.
func StartControlSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Operation(operation)}, attrs...)
	return StartSpan(ctx, SpanControl+operation, trace.WithAttributes(allAttrs...))
}

// StartStorageSpan starts a span for a storage backend call.
func StartStorageSpan(ctx context.Context, operation string, contentID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		ContentID(contentID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanStorage+operation, trace.WithAttributes(allAttrs...))
}
