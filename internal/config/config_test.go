package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: "9000"
database:
  driver: "sqlite"
  dsn: "file::memory:"
runner:
  interpreter: "python3"
  timeout: 30s
security:
  secret_key: "0123456789abcdef0123"
  ticket_secret: "ticket"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Runner.Timeout)
	assert.Equal(t, 3, cfg.Runner.MaxRegenerations)
	assert.Equal(t, 10, cfg.Prober.SampleLimit)
	assert.Equal(t, "PYTHONPATH", cfg.Runner.SearchPathEnv)
	assert.Equal(t, "local", cfg.Artifacts.Backend)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGSTACK_SERVER_PORT", "7777")
	t.Setenv("AGSTACK_KAFKA_BROKERS", "broker:9092")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, "broker:9092", cfg.Kafka.Brokers)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("AGSTACK_SECURITY_SECRET_KEY", "0123456789abcdef0123")
	t.Setenv("AGSTACK_SECURITY_TICKET_SECRET", "ticket")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123", cfg.Security.SecretKey)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing secret",
			body: "database:\n  driver: sqlite\n  dsn: x\n",
		},
		{
			name: "unknown artifact backend",
			body: sampleYAML + "\n" + "artifacts:\n  backend: s3\n",
		},
		{
			name: "sample limit above ten",
			body: sampleYAML + "\n" + "prober:\n  sample_limit: 50\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_RelativePathsAnchoredToConfigDir(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: "sqlite"
  dsn: "file:agstack.db?_foreign_keys=on"
artifacts:
  backend: "local"
  dir: "./output"
runner:
  interpreter: "python3"
  library_path: "./tools"
  timeout: 30s
security:
  secret_key: "0123456789abcdef0123"
  ticket_secret: "ticket"
`)
	base := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "output"), cfg.Artifacts.Dir)
	assert.Equal(t, filepath.Join(base, "tools"), cfg.Runner.LibraryPath)
	assert.Equal(t, "", cfg.Runner.TempDir)
	assert.Equal(t, "file:"+filepath.Join(base, "agstack.db")+"?_foreign_keys=on", cfg.Database.DSN)
}

func TestAnchorSQLiteDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{dsn: "agstack.db", want: "/srv/agstack.db"},
		{dsn: "file:data/a.db", want: "file:/srv/data/a.db"},
		{dsn: "file:/var/lib/a.db?cache=shared", want: "file:/var/lib/a.db?cache=shared"},
		{dsn: "file::memory:", want: "file::memory:"},
		{dsn: ":memory:", want: ":memory:"},
		{dsn: "file:x?mode=memory&cache=shared", want: "file:x?mode=memory&cache=shared"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, anchorSQLiteDSN("/srv", tt.dsn))
		})
	}
}
