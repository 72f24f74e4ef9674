package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(INFO)
	SetRedactPII(false)
	t.Cleanup(func() { SetOutput(os.Stderr) })
	return &buf
}

func TestLogWritesJSONFields(t *testing.T) {
	buf := capture(t)

	Info("delivery attempt", "port", 465, "attempt", 1)

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "delivery attempt", entry["msg"])
	assert.Equal(t, "465", entry["port"])
	assert.Equal(t, "1", entry["attempt"])
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestRedaction(t *testing.T) {
	buf := capture(t)
	SetRedactPII(true)

	Info("sent", "recipients", "john.doe@example.com, ab@example.org")

	out := buf.String()
	assert.Contains(t, out, "jo***@example.com")
	assert.Contains(t, out, "***@example.org")
	assert.NotContains(t, out, "john.doe")
}

func TestAddFileOnlyReceivesMinLevel(t *testing.T) {
	capture(t)
	path := filepath.Join(t.TempDir(), "logs", "errors.log")

	c, err := AddFile(path, ERROR)
	require.NoError(t, err)
	defer c.Close()

	Info("routine")
	Error("broken", "error", "boom")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), "broken")
}

func TestAddFileRotatesAtSizeLimit(t *testing.T) {
	capture(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.log")

	c, err := AddFile(path, INFO, WithMaxSizeMB(1))
	require.NoError(t, err)
	defer c.Close()

	payload := strings.Repeat("x", 8<<10)
	for range 160 {
		Info("bulk", "payload", payload)
	}

	rotated, err := filepath.Glob(filepath.Join(dir, RotatedPattern))
	require.NoError(t, err)
	require.Len(t, rotated, 1)
	assert.Regexp(t, `^bot-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{3}\.log$`, filepath.Base(rotated[0]))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1<<20))

	active, err := filepath.Match(RotatedPattern, "bot.log")
	require.NoError(t, err)
	assert.False(t, active, "the active log never matches the rotated pattern")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"":        INFO,
		"verbose": INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-address"))
}
