package secretariat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
backend:
  base_url: "http://backend.internal"
  reference_ttl: 30s
auth:
  jwt_secret: "from-file"
wizard:
  attachments: immediate
`), 0o600))
	t.Setenv("SECRETARIAT_AUTH_JWT_SECRET", "from-env")

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "http://backend.internal", cfg.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Backend.ReferenceTTL)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, AttachmentsImmediate, cfg.Wizard.Attachments)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 2, cfg.Backend.RetryCount)
}

func TestLoadConfig_RequiresSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":8080\"\n"), 0o600))

	_, err := LoadConfig(path)

	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfig_ValidateAttachmentStrategy(t *testing.T) {
	cfg := Config{
		Backend: BackendConfig{BaseURL: "http://x"},
		Auth:    AuthConfig{JWTSecret: "s"},
		Wizard:  WizardConfig{Attachments: "later"},
	}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidInput)

	cfg.Wizard.Attachments = AttachmentsDeferred
	assert.NoError(t, cfg.Validate())
}
