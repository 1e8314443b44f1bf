package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitscribe/internal/config"
)

func TestOpenStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bills.db")

	store, err := openStore(context.Background(), config.StorageConfig{Driver: "sqlite", SQLitePath: path})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = openStore(context.Background(), config.StorageConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestNewValidator(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := newValidator(config.ReconcileConfig{Mode: "strict", ToleranceCents: 2}, quiet)
	assert.NoError(t, err)

	_, err = newValidator(config.ReconcileConfig{Mode: "lenient", Rule: "share_sum +"}, quiet)
	assert.Error(t, err)
}

func TestNewApp_RequiresAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Model.APIKey = ""

	_, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "API key")
}

func TestMigrateCommand_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bills.db")
	for _, k := range []string{"DATABASE_URL", "API_KEY", "BUCKET_DIR", "JWT_SECRET", "PORT", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("LOG_FORMAT", "json")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	rootCmd.SetArgs([]string{"migrate", "up"})
	require.NoError(t, rootCmd.Execute())
	_, err := os.Stat(dbPath)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{"migrate", "down"})
	assert.Error(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"migrate", "sideways"})
	assert.Error(t, rootCmd.Execute())
}
