// ABOUTME: Tests for configuration loading, defaults, and validation
// ABOUTME: Covers env var expansion, duration parsing, and error cases

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const minimalConfig = `
zammad:
  url: "https://example.zammad.com"
  token: "secret"
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Mode)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, ".certs", cfg.TLS.CertDir)
	assert.Equal(t, 30*time.Second, cfg.Zammad.Timeout)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
mode: "http"
server:
  host: "0.0.0.0"
  port: 9090
zammad:
  url: "https://example.zammad.com"
  token: "secret"
  timeout: "90s"
tls:
  enabled: true
  generate: true
auth:
  jwt_secret: "hmac-secret"
audit:
  path: "/tmp/audit.db"
logging:
  level: "debug"
  format: "json"
`))
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Mode)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, 90*time.Second, cfg.Zammad.Timeout)
	assert.True(t, cfg.TLS.Enabled)
	assert.Equal(t, "hmac-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "/tmp/audit.db", cfg.Audit.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_ZAMMAD_TOKEN", "from-env")

	cfg, err := Load(writeConfig(t, `
zammad:
  url: "https://example.zammad.com"
  token: "${TEST_ZAMMAD_TOKEN}"
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Zammad.Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "mode: [broken"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"bad mode",
			`
mode: "tcp"
zammad:
  url: "https://x"
  token: "t"
`,
			"mode",
		},
		{
			"missing url",
			`
zammad:
  token: "t"
`,
			"zammad.url",
		},
		{
			"missing token",
			`
zammad:
  url: "https://x"
`,
			"zammad.token",
		},
		{
			"bad port",
			`
zammad:
  url: "https://x"
  token: "t"
server:
  port: 70000
`,
			"server.port",
		},
		{
			"tls without pair or generate",
			`
zammad:
  url: "https://x"
  token: "t"
tls:
  enabled: true
`,
			"tls",
		},
		{
			"tailscale without hostname",
			`
zammad:
  url: "https://x"
  token: "t"
tailscale:
  enabled: true
`,
			"tailscale.hostname",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
zammad:
  url: "https://x"
  token: "t"
  timeout: "soon"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}
