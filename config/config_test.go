package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:6700", c.Listen)
	assert.Equal(t, 3, c.Capacity)
	assert.Equal(t, "process", c.Launcher)
	assert.Equal(t, []string{"*"}, c.Cors.AllowedOrigins)
	assert.Equal(t, uint32(5), c.CircuitBreaker.FailureThreshold)
}

func TestLoad_FileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capacity: 7\nlisten: \"0.0.0.0:9000\"\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, c.Capacity)
	assert.Equal(t, "0.0.0.0:9000", c.Listen)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capacity: 7\n"), 0o644))
	t.Setenv("SESSIONHOST_CAPACITY", "9")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, c.Capacity)
}

func TestLoad_InvalidLauncherFailsValidation(t *testing.T) {
	t.Setenv("SESSIONHOST_LAUNCHER", "carrier-pigeon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launcher")
}

func TestConfig_Validate(t *testing.T) {
	valid := &Config{Listen: ":6700", Capacity: 1, LogLevel: "info", Launcher: "process"}
	assert.NoError(t, valid.Validate())

	empty := &Config{}
	err := empty.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
	assert.Contains(t, err.Error(), "capacity")

	dockerMissingImage := &Config{Listen: ":6700", Capacity: 1, LogLevel: "info", Launcher: "docker"}
	err = dockerMissingImage.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker_image")
}

func TestConfig_ApplyEnvironment(t *testing.T) {
	t.Setenv("IN_DOCKER", "true")
	t.Setenv("SESSIONHOST_LOG_LEVEL", "warn")

	c := &Config{LogLevel: "debug"}
	c.ApplyEnvironment()

	assert.True(t, c.InDocker)
	assert.Equal(t, "warn", c.LogLevel)
}
