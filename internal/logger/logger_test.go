package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestModuleTagAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf, false).Module("Poller")

	l.Debugf("hidden %d", 1)
	l.Infof("cycle %d rendered", 7)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] [Poller] cycle 7 rendered")
}

func TestModuleSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	root := New(WARN, &buf, false)
	child := root.Module("Upload")

	child.Infof("dropped")
	root.SetLevel(DEBUG)
	child.Debugf("kept")

	assert.False(t, strings.Contains(buf.String(), "dropped"))
	assert.True(t, strings.Contains(buf.String(), "[DEBUG] [Upload] kept"))
}

func TestDiscardIsSilent(t *testing.T) {
	l := Discard()
	assert.Equal(t, SILENT, l.GetLevel())
	l.Errorf("nothing %s", "here")
}
