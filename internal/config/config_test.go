package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PARTNERLINK_HOME_DIR", t.TempDir())
	t.Setenv("PARTNERLINK_SERVER_URL", "")
	t.Setenv("PARTNERLINK_DEBUG", "")
	t.Setenv("PARTNERLINK_LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultServerURL, cfg.ServerURL)
	require.Equal(t, defaultServerURL+"/notifications", cfg.SocketURL())
	require.Equal(t, "info", cfg.LogLevel)
	require.NotEmpty(t, cfg.InstanceID)
}

func TestLoadOverridesAndTrimsSlash(t *testing.T) {
	t.Setenv("PARTNERLINK_HOME_DIR", t.TempDir())
	t.Setenv("PARTNERLINK_SERVER_URL", "https://staging.savorly.app/")
	t.Setenv("PARTNERLINK_DEBUG", "1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://staging.savorly.app", cfg.ServerURL)
	require.Equal(t, "https://staging.savorly.app/notifications", cfg.SocketURL())
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestInstanceIDIsStableAcrossLoads(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PARTNERLINK_HOME_DIR", home)

	first, err := Load()
	require.NoError(t, err)

	second, err := Load()
	require.NoError(t, err)
	require.Equal(t, first.InstanceID, second.InstanceID)
}
