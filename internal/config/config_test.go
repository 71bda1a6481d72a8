package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WSGW_CONFIG_PATH", "WSGW_LISTEN_PORT", "WSGW_STAGE", "WSGW_API_ID",
		"WSGW_DOMAIN_NAME", "WSGW_INTEGRATION_MODE", "WSGW_ROUTE_SELECTION_EXPRESSION",
		"WSGW_IDLE_TIMEOUT_SECONDS", "WSGW_HARD_TIMEOUT_SECONDS", "WSGW_VERBOSE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_FileValuesAndDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
listen_port: 9090
stage: test
api_id: myapi
integration_mode: lambda-proxy
integrations:
  $connect: "http://localhost:4000/connect"
  $disconnect: "http://localhost:4000/disconnect"
  $default: "http://localhost:4000/default"
idle_timeout_seconds: 120
hard_timeout_seconds: 3600
`)
	t.Setenv("WSGW_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.ListenPort)
	assert.Equal(t, "test", cfg.Stage)
	assert.Equal(t, "myapi", cfg.APIID)
	assert.Equal(t, "localhost:9090", cfg.DomainName)
	assert.Equal(t, 120, cfg.IdleTimeoutSeconds)
	assert.Equal(t, 3600, cfg.HardTimeoutSeconds)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
listen_port: 9090
stage: test
api_id: myapi
integration_mode: lambda-proxy
integrations:
  $default: "http://localhost:4000/default"
idle_timeout_seconds: 120
hard_timeout_seconds: 3600
`)
	t.Setenv("WSGW_CONFIG_PATH", path)
	t.Setenv("WSGW_STAGE", "prod")
	t.Setenv("WSGW_LISTEN_PORT", "7000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Stage)
	assert.Equal(t, 7000, cfg.ListenPort)
}

func TestLoad_MissingFileFallsBackToDefaultsPlusEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WSGW_CONFIG_PATH", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	t.Setenv("WSGW_API_ID", "anapi")
	t.Setenv("WSGW_STAGE", "dev")
	t.Setenv("WSGW_INTEGRATION_MODE", "lambda-proxy")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.ListenPort)
	assert.Equal(t, "anapi", cfg.APIID)
}

func TestLoad_ValidationFailsWithoutRequiredFields(t *testing.T) {
	clearEnv(t)
	t.Setenv("WSGW_CONFIG_PATH", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	// No WSGW_API_ID set: required field is empty.

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsMalformedRouteSelectionExpression(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
listen_port: 9090
stage: test
api_id: myapi
integration_mode: lambda-proxy
route_selection_expression: "body.action"
integrations:
  $default: "http://localhost:4000/default"
idle_timeout_seconds: 120
hard_timeout_seconds: 3600
`)
	t.Setenv("WSGW_CONFIG_PATH", path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route_selection_expression")
}

func TestLoad_RejectsUserDefinedRouteKeyWithDollarPrefix(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
listen_port: 9090
stage: test
api_id: myapi
integration_mode: lambda-proxy
integrations:
  $default: "http://localhost:4000/default"
  $bogus: "http://localhost:4000/bogus"
idle_timeout_seconds: 120
hard_timeout_seconds: 3600
`)
	t.Setenv("WSGW_CONFIG_PATH", path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$bogus")
}

func TestLoad_MalformedFileIsFatal(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `not: [valid: yaml`)
	t.Setenv("WSGW_CONFIG_PATH", path)

	_, err := Load()
	require.Error(t, err)
}
