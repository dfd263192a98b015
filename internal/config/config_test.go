package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Default_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestConfig_Validate_RejectsZeroChunkSize(t *testing.T) {
	cfg := Default()
	cfg.Stream.ChunkSize = 0
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsEmptyAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsBadLogFormat(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsDiskCacheWithoutDir(t *testing.T) {
	cfg := Default()
	cfg.DiskCache.Enabled = true
	cfg.DiskCache.Dir = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig_NoPath_ReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfig_OverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  addr: \":9090\"\nstream:\n  chunk_size: 2097152\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.EqualValues(t, 2097152, cfg.Stream.ChunkSize)
}

func TestLoadConfig_MissingFile_Errors(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
