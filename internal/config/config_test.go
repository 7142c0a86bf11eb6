package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_FallsBackToDefaultWhenUnset(t *testing.T) {
	t.Setenv("TWAPBOOK_TEST_UNSET_VAR", "")
	assert.Equal(t, "fallback", getEnv("TWAPBOOK_TEST_UNSET_VAR", "fallback"))
}

func TestGetEnv_PrefersSetValue(t *testing.T) {
	t.Setenv("TWAPBOOK_TEST_SET_VAR", "explicit")
	assert.Equal(t, "explicit", getEnv("TWAPBOOK_TEST_SET_VAR", "fallback"))
}

func TestGetEnvAsInt_FallsBackOnMalformedValue(t *testing.T) {
	t.Setenv("TWAPBOOK_TEST_INT_VAR", "not-a-number")
	assert.Equal(t, 7, getEnvAsInt("TWAPBOOK_TEST_INT_VAR", 7))
}

func TestGetEnvAsInt_ParsesSetValue(t *testing.T) {
	t.Setenv("TWAPBOOK_TEST_INT_VAR", "42")
	assert.Equal(t, 42, getEnvAsInt("TWAPBOOK_TEST_INT_VAR", 7))
}

func TestGetEnvAsSlice_SplitsOnSeparator(t *testing.T) {
	t.Setenv("TWAPBOOK_TEST_SLICE_VAR", "a,b,c")
	assert.Equal(t, []string{"a", "b", "c"}, getEnvAsSlice("TWAPBOOK_TEST_SLICE_VAR", nil, ","))
}

func TestGetEnvAsSlice_FallsBackWhenUnset(t *testing.T) {
	t.Setenv("TWAPBOOK_TEST_SLICE_VAR", "")
	assert.Equal(t, []string{"*"}, getEnvAsSlice("TWAPBOOK_TEST_SLICE_VAR", []string{"*"}, ","))
}

func TestValidate_DevelopmentAllowsEmptySecrets(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Environment: "development"}}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ProductionRequiresJWTSecret(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Environment: "production"},
		Database: DatabaseConfig{URL: "postgres://localhost/db"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_ProductionRequiresDatabaseURL(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Environment: "production"},
		JWT:    JWTConfig{Secret: "s3cr3t"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_ProductionPassesWithAllRequiredFields(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Environment: "production"},
		Database: DatabaseConfig{URL: "postgres://localhost/db"},
		JWT:      JWTConfig{Secret: "s3cr3t"},
	}
	assert.NoError(t, cfg.Validate())
}
