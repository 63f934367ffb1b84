package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture sends output to a buffer until the test ends, then restores
// stdout, INFO and text.
func capture(t *testing.T) *lockedBuffer {
	t.Helper()
	buf := &lockedBuffer{}
	SetOutput(buf, false)
	t.Cleanup(func() {
		SetOutput(os.Stdout, false)
		SetLevel("INFO")
		SetFormat("text")
	})
	return buf
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) lines() []string {
	s := strings.TrimSpace(b.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func jsonLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
	return entry
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "Info": slog.LevelInfo, " WARN ": slog.LevelWarn,
		"warning": slog.LevelWarn, "ERROR": slog.LevelError,
	} {
		got, ok := ParseLevel(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseLevel("VERBOSE")
	assert.False(t, ok)
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)

	SetLevel("WARN")
	assert.Equal(t, "WARN", GetLevel())
	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
	assert.Len(t, buf.lines(), 2)

	SetLevel("VERBOSE") // ignored
	assert.Equal(t, "WARN", GetLevel())

	SetLevel("debug")
	Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestTextFormat(t *testing.T) {
	buf := capture(t)

	Info("stream cloned", ContentID("c1"), "reason", "copy on write", Size(4096), "empty", "")
	line := buf.lines()[0]

	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} INFO  stream cloned`, line)
	assert.Contains(t, line, " content_id=c1")
	assert.Contains(t, line, ` reason="copy on write"`)
	assert.Contains(t, line, " size=4096")
	assert.Contains(t, line, ` empty=""`)
	assert.NotContains(t, line, "\033[")
}

func TestTextFormatColor(t *testing.T) {
	buf := &lockedBuffer{}
	SetOutput(buf, true)
	t.Cleanup(func() { SetOutput(os.Stdout, false) })

	Error("failed", Err(errors.New("EIO")))
	assert.Contains(t, buf.String(), "\033[31mERROR\033[0m")
	assert.Contains(t, buf.String(), "\033[36merror\033[0m=EIO")
}

func TestTextHandlerGroupsAndBoundAttrs(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	l := slog.New(newTextHandler(&buf, lv, false)).With(Branch("main")).WithGroup("req")
	l.Info("hello", "pid", 7, slog.Group("io", "offset", 8))

	assert.Contains(t, buf.String(), " branch=main req.pid=7 req.io.offset=8")
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t)
	SetFormat("json")

	Warn("reflink unavailable", Path("/data"), Err(nil))
	entry := jsonLine(t, buf.lines()[0])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "reflink unavailable", entry["msg"])
	assert.Equal(t, "/data", entry["path"])
	assert.NotContains(t, entry, "error")

	SetFormat("xml") // ignored
	Info("still json")
	jsonLine(t, buf.lines()[1])
}

func TestContextFields(t *testing.T) {
	buf := capture(t)
	SetFormat("json")

	lc := NewLogContext("write", 42).WithTrace("abc123", "xyz789").WithView("feature", 1000, 100)
	InfoCtx(WithContext(context.Background(), lc), "done", "extra", "v")

	entry := jsonLine(t, buf.lines()[0])
	assert.Equal(t, "abc123", entry["trace_id"])
	assert.Equal(t, "xyz789", entry["span_id"])
	assert.Equal(t, "write", entry["operation"])
	assert.Equal(t, float64(42), entry["pid"])
	assert.Equal(t, "feature", entry["branch"])
	assert.Equal(t, float64(1000), entry["uid"])
	assert.Equal(t, float64(100), entry["gid"])
	assert.Equal(t, "v", entry["extra"])

	// Before the view is resolved no identity is logged
	WarnCtx(WithContext(context.Background(), NewLogContext("mkdir", 1)), "early")
	entry = jsonLine(t, buf.lines()[1])
	assert.NotContains(t, entry, "uid")
	assert.NotContains(t, entry, "trace_id")

	ErrorCtx(context.Background(), "plain")
	assert.Len(t, buf.lines(), 3)
}

func TestLogContextCopies(t *testing.T) {
	lc := NewLogContext("open", 9)
	viewed := lc.WithView("main", 0, 0)
	traced := viewed.WithTrace("t", "s")

	assert.Empty(t, lc.Branch)
	assert.Empty(t, viewed.TraceID)
	assert.Equal(t, "main", traced.Branch)
	assert.Equal(t, lc.StartTime, traced.StartTime)
	assert.Nil(t, FromContext(context.Background()))
	assert.Same(t, traced, FromContext(WithContext(context.Background(), traced)))
}

func TestPrintfStyle(t *testing.T) {
	buf := capture(t)

	Debugf("hidden %d", 1)
	SetLevel("DEBUG")
	Debugf("badger: %s", "compaction")
	Warnf("reflink unavailable on %s", "/data")
	Errorf("sync failed: %v", "EIO")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "badger: compaction")
	assert.Contains(t, out, "reflink unavailable on /data")
	assert.Contains(t, out, "sync failed: EIO")
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, "0755", Mode(0o755).Value.String())
	assert.Equal(t, KeyContentID, ContentID("c1").Key)
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.True(t, Err(nil).Equal(slog.Attr{}))
}

func TestConcurrentLogging(t *testing.T) {
	buf := capture(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				Info("line", "worker", i, "n", j)
				if j%10 == 0 {
					SetLevel("INFO")
				}
			}
		}()
	}
	wg.Wait()

	lines := buf.lines()
	assert.Len(t, lines, 400)
	for _, l := range lines {
		assert.Contains(t, l, "INFO  line worker=")
	}
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentfs.log")
	require.NoError(t, Init(Config{Level: "DEBUG", Format: "json", Output: path}))
	t.Cleanup(func() {
		require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: "stdout"}))
	})

	Debug("to file", NodeID(5))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entry := jsonLine(t, strings.TrimSpace(string(data)))
	assert.Equal(t, float64(5), entry["node_id"])

	err = Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
