package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("SERVER", "")
	t.Setenv("ENV_PATH", "")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "tcp:localhost:4713", cfg.Server)
	assert.Equal(t, 1000, cfg.PacketBufferSize)
	assert.Equal(t, uint16(16384), cfg.RTPPortMin)
	assert.Equal(t, uint16(32768), cfg.RTPPortMax)
}

func TestLoad_PrefersXDGRuntimeDirForDefaultServer(t *testing.T) {
	t.Setenv("SERVER", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "unix:/run/user/1000/pulse/native", cfg.Server)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("SERVER", "tcp:example.com:9999")
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "tcp:example.com:9999", cfg.Server)
}

func TestLoad_FlagsBindOverDefaults(t *testing.T) {
	t.Setenv("SERVER", "")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Set("server", "unix:/tmp/test.sock"))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "unix:/tmp/test.sock", cfg.Server)
}

func TestLoad_RejectsInvertedPortRange(t *testing.T) {
	t.Setenv("RTP_PORT_MIN", "40000")
	t.Setenv("RTP_PORT_MAX", "30000")
	_, err := Load(nil)
	assert.Error(t, err)
}
