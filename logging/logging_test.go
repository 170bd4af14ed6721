package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLogLevel(INFO)
	})

	SetLogLevel(WARN)
	Info("hidden %d", 1)
	Warn("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")

	// unknown levels fall back to INFO, and the level survives SetOutput
	SetLogLevel("LOUD")
	var next bytes.Buffer
	SetOutput(&next)
	Debug("debug")
	Info("info")
	assert.NotContains(t, next.String(), "debug")
	assert.Contains(t, next.String(), "info")
}

func TestPanic(t *testing.T) {
	assert.PanicsWithValue(t, "bad state 3", func() { Panic("bad state %d", 3) })
}
