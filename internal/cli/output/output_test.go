package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "TABLE": FormatTable, "json": FormatJSON, "yml": FormatYAML, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestPrint(t *testing.T) {
	tbl := NewTable("name", "size")
	tbl.AddRow("main", "1 KiB")
	tbl.AddRow("work", "2 KiB")

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, tbl))
	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "work")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)

	type row struct {
		Name string `json:"name" yaml:"name"`
	}
	buf.Reset()
	require.NoError(t, Print(&buf, FormatJSON, row{Name: "x"}))
	assert.JSONEq(t, `{"name":"x"}`, buf.String())

	buf.Reset()
	require.NoError(t, Print(&buf, FormatYAML, row{Name: "x"}))
	assert.Equal(t, "name: x\n", buf.String())

	// table mode without a TableRenderer
	buf.Reset()
	require.NoError(t, Print(&buf, FormatTable, row{Name: "y"}))
	assert.JSONEq(t, `{"name":"y"}`, buf.String())

	assert.Error(t, Print(&buf, Format("csv"), row{}))
}

func TestPrintKV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintKV(&buf, [][2]string{{"branches", "2"}, {"snapshots", "1"}}))
	assert.Contains(t, buf.String(), "branches:")
	assert.Contains(t, buf.String(), "snapshots:")
}

func TestHumanFormatting(t *testing.T) {
	assert.Equal(t, "1.5 KiB", Bytes(1536))
	assert.Equal(t, "1,234,567", Count(1234567))
	assert.Equal(t, "-", Since(time.Time{}))
	assert.Contains(t, Since(time.Now().Add(-3*time.Hour)), "hours ago")
	assert.Equal(t, "1.235s", Duration(1234567*time.Microsecond))
	assert.Equal(t, "1.5ms", Duration(1500*time.Microsecond))
}
