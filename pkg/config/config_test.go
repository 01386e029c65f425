package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "darkstar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "app:\n  name: test-app\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-app", cfg.AppName)
	assert.Equal(t, "bolt", cfg.StoreClass)
	assert.True(t, cfg.DetectModifications)
	assert.Equal(t, 0, cfg.DebugCheckInterval)
}

func TestLoadMissingAppNameFails(t *testing.T) {
	path := writeConfigFile(t, "data:\n  dir: /tmp/x\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDisconnectDelayBelowFloor(t *testing.T) {
	path := writeConfigFile(t, "app:\n  name: test-app\ndisconnect:\n  delay: 50ms\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfigFile(t, `
app:
  name: test-app
debug:
  check:
    interval: 50
detect:
  modifications: false
disconnect:
  delay: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.DebugCheckInterval)
	assert.False(t, cfg.DetectModifications)
	assert.Equal(t, 250*1e6, float64(cfg.DisconnectDelay))
}

func TestLoadEnvVarOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "app:\n  name: file-app\n")
	t.Setenv("DARKSTAR_APP_NAME", "env-app")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-app", cfg.AppName)
}

func TestLoadEnvVarOverridesDottedNestedKey(t *testing.T) {
	path := writeConfigFile(t, "app:\n  name: test-app\n")
	t.Setenv("DARKSTAR_DEBUG_CHECK_INTERVAL", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.DebugCheckInterval)
}
