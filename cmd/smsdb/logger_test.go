// ABOUTME: Tests for the CLI log handler
// ABOUTME: Checks level filtering, attrs and group prefixes in text output

package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/smsdb/internal/config"
)

func TestColorHandler_Groups(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.With("component", "store").
		WithGroup("tx").
		With("mode", "readwrite").
		WithGroup("msg").
		Debug("saved", "id", 7)

	out := buf.String()
	assert.Contains(t, out, "DBG saved")
	assert.Contains(t, out, " component=store")
	assert.Contains(t, out, " tx.mode=readwrite")
	assert.Contains(t, out, " tx.msg.id=7")
}

func TestColorHandler_Level(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "WRN shown")
}
