package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithOutput("debug", &buf)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.Zero(t, buf.Len())
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithOutput("chatty", &buf)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "chatty", entry["requested_level"])
}
