package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "reachable: 5s")
	assert.Contains(t, out, "unreachable: 40m0s")
	assert.Contains(t, out, "level: info")
}

func TestConfig_FileOverlayJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.yaml")
	writeFile(t, path, "timeouts:\n  reachable: 2s\nlog:\n  level: debug\n")

	out, err := execute(t, "--config", path, "config", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string                    `json:"status"`
		Data   map[string]map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "2s", resp.Data["timeouts"]["reachable"])
	assert.Equal(t, "40s", resp.Data["timeouts"]["file_transfer"])
	assert.Equal(t, "debug", resp.Data["log"]["level"])
	assert.EqualValues(t, 0, resp.Data["quota"]["max_ops"])
}

func TestConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.yaml")
	writeFile(t, path, "timeout:\n  reachable: 2s\n")

	_, err := execute(t, "--config", path, "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfig_RejectsArgs(t *testing.T) {
	_, err := execute(t, "config", "extra")
	assert.Error(t, err)
}
