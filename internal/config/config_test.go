package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteMissingVarBecomesNull(t *testing.T) {
	os.Unsetenv("CONDUIT_TEST_UNSET_VAR")
	got := substitute("host: ${env.CONDUIT_TEST_UNSET_VAR}")
	assert.Equal(t, "host: null", got)
}

func TestSubstitutePresentVarIsInlined(t *testing.T) {
	t.Setenv("CONDUIT_TEST_HOST", "db.example.com")
	got := substitute("host: ${env.CONDUIT_TEST_HOST}")
	assert.Equal(t, "host: db.example.com", got)
}

func TestSubstituteEmptyVarBecomesNull(t *testing.T) {
	t.Setenv("CONDUIT_TEST_EMPTY", "")
	got := substitute("password: ${env.CONDUIT_TEST_EMPTY}")
	assert.Equal(t, "password: null", got)
}

func TestSubstituteMultipleTokens(t *testing.T) {
	t.Setenv("CONDUIT_TEST_A", "alpha")
	t.Setenv("CONDUIT_TEST_B", "beta")
	got := substitute("a: ${env.CONDUIT_TEST_A}\nb: ${env.CONDUIT_TEST_B}")
	assert.Equal(t, "a: alpha\nb: beta", got)
}

func TestValidateRejectsZeroMaxChildQueues(t *testing.T) {
	cfg := &Config{Databases: DatabasesConfig{MaxChildQueues: 0}}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateDefaultsHeartbeatInterval(t *testing.T) {
	cfg := &Config{Databases: DatabasesConfig{MaxChildQueues: 4}}
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 30, cfg.Databases.HeartbeatIntervalSeconds)
}

func TestValidatePreservesExplicitHeartbeatInterval(t *testing.T) {
	cfg := &Config{Databases: DatabasesConfig{MaxChildQueues: 4, HeartbeatIntervalSeconds: 5}}
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 5, cfg.Databases.HeartbeatIntervalSeconds)
}

func TestValidateRejectsDuplicateConnectionNames(t *testing.T) {
	cfg := &Config{
		Databases: DatabasesConfig{MaxChildQueues: 4},
		Connections: []ConnectionConfig{
			{Enabled: true, Name: "primary", Engine: "sqlite"},
			{Enabled: true, Name: "primary", Engine: "postgresql"},
		},
	}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateIgnoresDisabledConnectionsForDuplicateCheck(t *testing.T) {
	cfg := &Config{
		Databases: DatabasesConfig{MaxChildQueues: 4},
		Connections: []ConnectionConfig{
			{Enabled: false, Name: "primary", Engine: "sqlite"},
			{Enabled: true, Name: "primary", Engine: "postgresql"},
		},
	}
	require.NoError(t, Validate(cfg))
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	cfg := &Config{
		Databases:   DatabasesConfig{MaxChildQueues: 4},
		Connections: []ConnectionConfig{{Enabled: true, Name: "primary", Engine: "oracle"}},
	}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateRejectsMissingConnectionName(t *testing.T) {
	cfg := &Config{
		Databases:   DatabasesConfig{MaxChildQueues: 4},
		Connections: []ConnectionConfig{{Enabled: true, Engine: "sqlite"}},
	}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestLoadRoundTrip(t *testing.T) {
	t.Setenv("CONDUIT_TEST_LOAD_HOST", "dbhost")

	yamlContent := `
databases:
  default_workers: 2
  max_child_queues: 8
  heartbeat_interval_seconds: 15
connections:
  - enabled: true
    name: primary
    engine: postgresql
    host: ${env.CONDUIT_TEST_LOAD_HOST}
    port: 5432
    database: appdb
    queues:
      fast:
        min: 1
        max: 4
http:
  addr: ":8080"
  rate_limit_requests_per_second: 10
  rate_limit_burst: 20
logging:
  level: info
`
	dir := t.TempDir()
	path := filepath.Join(dir, "conduit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, "dbhost", cfg.Connections[0].Host)
	assert.Equal(t, "primary", cfg.Connections[0].Name)
	assert.Equal(t, 1, cfg.Connections[0].Queues.Fast.Min)
	assert.Equal(t, 8, cfg.Databases.MaxChildQueues)
}

func TestLoadAppliesEnvOverlayForLogLevel(t *testing.T) {
	t.Setenv("CONDUIT_LOGGING_LEVEL", "debug")

	yamlContent := `
databases:
  max_child_queues: 1
logging:
  level: info
`
	dir := t.TempDir()
	path := filepath.Join(dir, "conduit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadPropagatesValidationFailure(t *testing.T) {
	yamlContent := `
databases:
  max_child_queues: 0
`
	dir := t.TempDir()
	path := filepath.Join(dir, "conduit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
