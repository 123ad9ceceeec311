package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avoronin/potledger/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, "ledger.db", cfg.DBPath)
	assert.Equal(t, 3*time.Minute, cfg.AutoLockTimeout.Duration)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("POTLEDGER_DB_PATH", "/tmp/books.db")
	t.Setenv("POTLEDGER_AUTO_LOCK", "45s")
	t.Setenv("POTLEDGER_LOG_LEVEL", "debug")

	cfg := defaults()
	cfg.applyEnv()

	assert.Equal(t, "/tmp/books.db", cfg.DBPath)
	assert.Equal(t, 45*time.Second, cfg.AutoLockTimeout.Duration)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnv_InvalidDurationIgnored(t *testing.T) {
	t.Setenv("POTLEDGER_AUTO_LOCK", "soon")

	cfg := defaults()
	cfg.applyEnv()
	assert.Equal(t, 3*time.Minute, cfg.AutoLockTimeout.Duration)
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"db_path": "books.db", "auto_lock_timeout": "10m"}`), 0o600))

	cfg := defaults()
	require.NoError(t, cfg.applyFile(path))

	assert.Equal(t, "books.db", cfg.DBPath)
	assert.Equal(t, 10*time.Minute, cfg.AutoLockTimeout.Duration)
	assert.Equal(t, "info", cfg.LogLevel, "untouched fields keep their defaults")
}

func TestApplyFile_Missing(t *testing.T) {
	cfg := defaults()
	assert.Error(t, cfg.applyFile(filepath.Join(t.TempDir(), "nope.json")))
}

func TestApplyFlags(t *testing.T) {
	cfg := defaults()
	cfg.applyFlags([]string{"-d", "flagged.db", "-t", "30s", "-init"})

	assert.Equal(t, "flagged.db", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.AutoLockTimeout.Duration)
}

func TestLayerPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"db_path": "from_file.db"}`), 0o600))

	t.Setenv("POTLEDGER_DB_PATH", "from_env.db")

	cfg := defaults()
	cfg.applyEnv()
	require.NoError(t, cfg.applyFile(path))
	cfg.applyFlags([]string{"-d", "from_flag.db"})

	assert.Equal(t, "from_flag.db", cfg.DBPath, "flags beat file beats env")
}

func TestDurationJSONForms(t *testing.T) {
	cfg := defaults()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"auto_lock_timeout": 60000000000}`), 0o600))

	require.NoError(t, cfg.applyFile(path))
	assert.Equal(t, timex.Duration{Duration: time.Minute}, cfg.AutoLockTimeout)
}
