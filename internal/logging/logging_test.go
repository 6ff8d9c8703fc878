package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, FmtLogfmt, LevelInfo)
	l.Debug("hidden")
	l.Info("shown", "functions", 3)
	l.With("strategy", "bfs").Warn("careful")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "functions=3")
	assert.Contains(t, out, "strategy=bfs")
	assert.Contains(t, out, "level=warn")
}

func TestJSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, FmtJSON, LevelDebug).Error("boom", "file", "lib.rs")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec))
	assert.Equal(t, "boom", rec["msg"])
	assert.Equal(t, "lib.rs", rec["file"])
	assert.Equal(t, "error", rec["level"])
}

func TestNopDiscards(t *testing.T) {
	t.Parallel()

	l := NewNop()
	l.Error("nothing")
	l.With("k", "v").Info("nothing")
}

func TestSetValues(t *testing.T) {
	t.Parallel()

	var lvl Level
	require.NoError(t, lvl.Set("WARN"))
	assert.Equal(t, LevelWarn, lvl)
	assert.Error(t, lvl.Set("loud"))

	var f Format
	require.NoError(t, f.UnmarshalText([]byte("json")))
	assert.Equal(t, FmtJSON, f)
	assert.Error(t, f.Set("xml"))
}
