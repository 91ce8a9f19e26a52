package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "APP_ENV", "NODE_ENV", "LOG_LEVEL", "ALLOWED_ORIGINS", "APP_ID",
		"BACKEND_DRIVER", "BACKEND_URL", "DB_URL", "DSL_DIR", "SEED_FILE", "JWT_SECRET",
		"SESSION_TTL", "FANOUT_WAIT", "LOGIN_RATE", "LOGIN_BURST",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func noFiles(t *testing.T) []string {
	dir := t.TempDir()
	return []string{"-config", filepath.Join(dir, "none.json"), "-env-file", filepath.Join(dir, "none.env")}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("test", noFiles(t))
	require.NoError(t, err)

	assert.Equal(t, "1111", cfg.Port)
	assert.Equal(t, ":1111", cfg.Addr())
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, DriverMemory, cfg.BackendDriver)
	assert.True(t, cfg.Embedded())
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL.Duration)
	assert.Equal(t, 2*time.Second, cfg.FanoutWait.Duration)
	assert.Equal(t, 1.0, cfg.LoginRate)
	assert.Equal(t, 5, cfg.LoginBurst)
}

func TestLayering(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "ff.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"port": "2000",
		"appId": "from-json",
		"backendDriver": "remote",
		"backendUrl": "http://json.example",
		"sessionTtl": "1h"
	}`), 0o600))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("APP_ID=from-dotenv\nFANOUT_WAIT=500ms\n"), 0o600))
	t.Setenv("PORT", "3000")
	t.Setenv("NODE_ENV", "development")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("test", []string{"-config", jsonPath, "-env-file", envPath, "-backend", "http://flag.example"})
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port, "env beats json")
	assert.Equal(t, "development", cfg.Environment, "NODE_ENV fallback")
	assert.Equal(t, "from-dotenv", cfg.AppID)
	assert.Equal(t, DriverRemote, cfg.BackendDriver)
	assert.False(t, cfg.Embedded())
	assert.Equal(t, "http://flag.example", cfg.BackendURL, "flag beats json")
	assert.Equal(t, time.Hour, cfg.SessionTTL.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.FanoutWait.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestAppEnvWinsOverNodeEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "staging")
	t.Setenv("NODE_ENV", "development")
	cfg, err := Load("test", noFiles(t))
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestInvalidSettings(t *testing.T) {
	cases := map[string][]string{
		"port":            {"-port", "abc"},
		"driver":          {"-driver", "sqlite"},
		"postgres no url": {"-driver", "postgres"},
		"ttl":             {"-session-ttl", "0s"},
		"unknown flag":    {"-nope"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load("test", append(noFiles(t), args...))
			assert.Error(t, err)
		})
	}
}

func TestBadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOGIN_BURST", "many")
	_, err := Load("test", noFiles(t))
	assert.ErrorContains(t, err, "LOGIN_BURST")
}

func TestBadJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ff.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sessionTtl": 5}`), 0o600))
	_, err := Load("test", []string{"-config", path, "-env-file", filepath.Join(t.TempDir(), "x")})
	assert.Error(t, err)
}
