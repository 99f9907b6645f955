package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New("DEBUG", "json").GetLevel())
	assert.Equal(t, logrus.WarnLevel, New("warning", "json").GetLevel())
	assert.Equal(t, logrus.ErrorLevel, New("error", "text").GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("bogus", "json").GetLevel())
}

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("info", "json", &buf)

	logger.WithField("thread_id", "t-1").Info("turn complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "t-1", entry["thread_id"])
	assert.Equal(t, "turn complete", entry["msg"])
}
