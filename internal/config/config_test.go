package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "splitscribe.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// clearEnv hides overrides that may be set on the machine running the tests.
func clearEnv(t *testing.T) {
	for _, k := range []string{"DB_PATH", "DATABASE_URL", "API_KEY", "BUCKET_DIR", "JWT_SECRET", "LOG_LEVEL", "LOG_FORMAT", "PORT"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 2, cfg.Model.MaxAttempts)
	assert.Equal(t, "lenient", cfg.Reconcile.Mode)
	assert.True(t, cfg.Pipeline.AutoProvision)
	assert.Equal(t, "Me", cfg.Pipeline.DefaultMemberName)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[server]
port = 9090
request_timeout = "45s"

[model]
name = "gemini-2.5-pro"
timeout = "2m"
max_attempts = 3

[reconcile]
mode = "strict"
tolerance_cents = 2
rule = "share_sum == amount_cents"

[pipeline]
auto_provision = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout.Std())
	assert.Equal(t, "gemini-2.5-pro", cfg.Model.Name)
	assert.Equal(t, 2*time.Minute, cfg.Model.Timeout.Std())
	assert.Equal(t, 3, cfg.Model.MaxAttempts)
	assert.Equal(t, "strict", cfg.Reconcile.Mode)
	assert.Equal(t, int64(2), cfg.Reconcile.ToleranceCents)
	assert.Equal(t, "share_sum == amount_cents", cfg.Reconcile.Rule)
	assert.False(t, cfg.Pipeline.AutoProvision)

	// Untouched sections keep their defaults.
	assert.True(t, cfg.Pipeline.PreflightClassify)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "[server]\nprot = 1\n"},
		{"bad duration", "[model]\ntimeout = \"soon\"\n"},
		{"bad mode", "[reconcile]\nmode = \"loose\"\n"},
		{"negative tolerance", "[reconcile]\ntolerance_cents = -1\n"},
		{"unknown driver", "[storage]\ndriver = \"mysql\"\n"},
		{"postgres without url", "[storage]\ndriver = \"postgres\"\n"},
		{"auth without secret", "[auth]\nrequired = true\n"},
		{"not toml", "this is = = not toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DB_PATH":      "/var/lib/splitscribe/bills.db",
		"DATABASE_URL": "postgres://localhost/splitscribe",
		"API_KEY":      "secret-key",
		"BUCKET_DIR":   "/srv/bucket",
		"JWT_SECRET":   "jwt",
		"LOG_LEVEL":    "debug",
		"PORT":         "7000",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "/var/lib/splitscribe/bills.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/splitscribe", cfg.Storage.PostgresURL)
	assert.Equal(t, "secret-key", cfg.Model.APIKey)
	assert.Equal(t, "/srv/bucket", cfg.Bucket.Dir)
	assert.Equal(t, "jwt", cfg.Auth.JWTSecret)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.NoError(t, cfg.Validate())

	bad := Default()
	assert.Error(t, bad.applyEnv(func(k string) string {
		if k == "PORT" {
			return "eighty"
		}
		return ""
	}))
}
