package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipsync/internal/tcppeer"
)

func boundConnect(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	cmd := newConnectCmd()
	require.NoError(t, cmd.ParseFlags(args))
	require.NoError(t, bindViper(cmd, v))
	return v
}

func TestEngineConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	v := boundConnect(t)

	cfg, err := engineConfig(v, tcppeer.RoleDialer, "peer.lan")
	require.NoError(t, err)
	assert.Equal(t, "peer.lan:9999", cfg.Peer.Addr())
	assert.Equal(t, tcppeer.DefaultRetryDelay, cfg.Peer.RetryDelay)
	assert.Equal(t, tcppeer.DefaultProbeInterval, cfg.Peer.ProbeInterval)
	assert.Zero(t, cfg.Peer.IdleTimeout)
	assert.Zero(t, cfg.Peer.MaxAttempts)
	assert.False(t, cfg.ResyncOnConnect)
}

func TestEngineConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "clipsync.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
port = 7000
retry-delay = "10s"
resync = true
`), 0o600))

	t.Setenv("CLIPSYNC_RETRY_DELAY", "7s")
	v := boundConnect(t, "--config", file, "--max-attempts", "4")

	cfg, err := engineConfig(v, tcppeer.RoleDialer, "peer")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Peer.Port, "config file")
	assert.Equal(t, 7*time.Second, cfg.Peer.RetryDelay, "env beats file")
	assert.Equal(t, 4, cfg.Peer.MaxAttempts, "flag")
	assert.True(t, cfg.ResyncOnConnect)
}

func TestEngineConfigRejectsBadPort(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	v := boundConnect(t, "--port", "0")
	_, err := engineConfig(v, tcppeer.RoleDialer, "peer")
	assert.Error(t, err)
}

func TestConnectNeedsHost(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"connect"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestVersion(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "clipsync dev\n", out.String())
}

func TestFmtAge(t *testing.T) {
	assert.Equal(t, "5s", fmtAge(time.Now().Add(-5*time.Second)))
	assert.Equal(t, "2m3s", fmtAge(time.Now().Add(-123*time.Second)))
	assert.Equal(t, "1h1m", fmtAge(time.Now().Add(-61*time.Minute)))
}
