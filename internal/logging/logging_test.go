package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aridialer/internal/config"
)

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dialer.log")
	require.NoError(t, Setup(config.LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1}))
	defer func() {
		Close()
		logrus.SetOutput(os.Stderr)
	}()

	Component("scheduler").WithField("campaign", 7).Info("tick")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"scheduler"`)
	assert.Contains(t, string(data), `"campaign":7`)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestSetupRejectsBadLevel(t *testing.T) {
	assert.Error(t, Setup(config.LogConfig{Level: "loud"}))
}
