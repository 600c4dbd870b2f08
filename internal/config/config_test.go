package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"HOST", "PORT", "CGI_ROOT", "CGI_DIRECTORIES", "CGI_INTERPRETERS", "CGI_INHERIT_ENV", "OPS_PATH_PREFIX", "LOG_TYPE"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "", cfg.Host)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, ":9999", cfg.Addr())
	assert.Equal(t, ".", cfg.CGI.Root)
	assert.Equal(t, []string{"/"}, cfg.CGI.Directories)
	assert.Empty(t, cfg.CGI.Interpreters)
	assert.Equal(t, []string{"*"}, cfg.CGI.InheritEnv)
	assert.Equal(t, "/_", cfg.OpsPathPrefix)
	assert.Equal(t, LogTypeConsole, cfg.Log.Type)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "8081")
	t.Setenv("CGI_DIRECTORIES", "/cgi-bin, /htbin ,")
	t.Setenv("CGI_INTERPRETERS", ".PL=perl,sh=/bin/sh,broken")
	t.Setenv("CGI_STATIC_FALLBACK", "true")
	t.Setenv("OPS_PATH_PREFIX", "/ops/")
	t.Setenv("SHUTDOWN_TIMEOUT_SEC", "3")

	cfg := Load()

	assert.Equal(t, "127.0.0.1:8081", cfg.Addr())
	assert.Equal(t, []string{"/cgi-bin", "/htbin"}, cfg.CGI.Directories)
	assert.Equal(t, map[string]string{"pl": "perl", "sh": "/bin/sh"}, cfg.CGI.Interpreters)
	assert.True(t, cfg.CGI.StaticFallback)
	assert.Equal(t, "/ops", cfg.OpsPathPrefix)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr string
	}{
		{name: "empty port", mutate: func(c *AppConfig) { c.Port = "" }, wantErr: "port is required"},
		{name: "non numeric port", mutate: func(c *AppConfig) { c.Port = "http" }, wantErr: "port must be a number"},
		{name: "relative directory", mutate: func(c *AppConfig) { c.CGI.Directories = []string{"cgi-bin"} }, wantErr: "must start with '/'"},
		{name: "no directories", mutate: func(c *AppConfig) { c.CGI.Directories = nil }, wantErr: "at least one cgi directory"},
		{name: "file logger without path", mutate: func(c *AppConfig) { c.Log.Type = LogTypeFile }, wantErr: "log file path is required"},
		{name: "unknown logger", mutate: func(c *AppConfig) { c.Log.Type = "syslog" }, wantErr: "unsupported log type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := &AppConfig{Timezone: "Not/AZone"}
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = "UTC"
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestGetEnv(t *testing.T) {
	key := "TEST_ENV_VAR"
	t.Setenv(key, "value")

	assert.Equal(t, "value", getEnv(key, "default"))
	assert.Equal(t, "default", getEnv("NON_EXISTENT", "default"))
}

func TestGetEnvBool(t *testing.T) {
	key := "TEST_BOOL_VAR"

	t.Setenv(key, "true")
	assert.True(t, getEnvBool(key, false))

	t.Setenv(key, "false")
	assert.False(t, getEnvBool(key, true))

	t.Setenv(key, "invalid")
	assert.True(t, getEnvBool(key, true))

	t.Setenv(key, "")
	assert.True(t, getEnvBool(key, true))
}

func TestGetEnvInt(t *testing.T) {
	key := "TEST_INT_VAR"

	t.Setenv(key, "123")
	assert.Equal(t, 123, getEnvInt(key, 0))

	t.Setenv(key, "invalid")
	assert.Equal(t, 10, getEnvInt(key, 10))

	t.Setenv(key, "")
	assert.Equal(t, 10, getEnvInt(key, 10))
}
