package zlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"synapse/pkg/logging"
)

func TestLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logging.LevelWarn)
	l.Debug("f.go", 1, "fn", "hidden")
	l.Warn("f.go", 2, "fn", "shown %d", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 1")
}

func TestLogger_SetLevelGetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logging.LevelInfo)
	assert.Equal(t, logging.LevelInfo, l.GetLevel())
	l.SetLevel(logging.LevelError)
	assert.Equal(t, logging.LevelError, l.GetLevel())
}

func TestNewService_ReturnsUsableLogger(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(&buf, logging.LevelDebug)
	svc.Logger().Info("f.go", 1, "fn", "hello")
	assert.Contains(t, buf.String(), "hello")
}
