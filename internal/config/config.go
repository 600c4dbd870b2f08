package config

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// CGIConfig holds the settings that decide which files are executed as CGI scripts and how.
type CGIConfig struct {
	Root           string
	Directories    []string
	Interpreters   map[string]string
	InheritEnv     []string
	StaticFallback bool
	ServerSoftware string
}

// LogConfig holds logger output settings.
type LogConfig struct {
	Level      string
	Type       string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables.
type AppConfig struct {
	Host               string
	Port               string
	OpsPathPrefix      string
	ShutdownTimeoutSec int
	Timezone           string
	CGI                CGIConfig
	Log                LogConfig
}

const (
	LogTypeConsole = "console"
	LogTypeFile    = "file"
)

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// Defaults serve CGI scripts from every directory below the working directory on port 9999.
func Load() *AppConfig {
	return &AppConfig{
		Host:               getEnv("HOST", ""),
		Port:               getEnv("PORT", "9999"),
		OpsPathPrefix:      strings.TrimSuffix(getEnv("OPS_PATH_PREFIX", "/_"), "/"),
		ShutdownTimeoutSec: getEnvInt("SHUTDOWN_TIMEOUT_SEC", 10),
		Timezone:           getEnv("APP_TIMEZONE", "UTC"),
		CGI: CGIConfig{
			Root:           getEnv("CGI_ROOT", "."),
			Directories:    getEnvList("CGI_DIRECTORIES", []string{"/"}),
			Interpreters:   getEnvMap("CGI_INTERPRETERS", map[string]string{}),
			InheritEnv:     getEnvList("CGI_INHERIT_ENV", []string{"*"}),
			StaticFallback: getEnvBool("CGI_STATIC_FALLBACK", false),
			ServerSoftware: getEnv("SERVER_SOFTWARE", "cgiserver/1.0"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Type:       getEnv("LOG_TYPE", LogTypeConsole),
			FilePath:   getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
	}
}

// Addr returns the listen address; an empty host binds all interfaces.
func (c *AppConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *AppConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// Validate reports configuration that would make the server unusable.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	} else if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		errs = append(errs, errors.New("port must be a number between 0 and 65535"))
	}
	if c.CGI.Root == "" {
		errs = append(errs, errors.New("cgi root is required"))
	}
	if len(c.CGI.Directories) == 0 {
		errs = append(errs, errors.New("at least one cgi directory is required"))
	}
	for _, d := range c.CGI.Directories {
		if !strings.HasPrefix(d, "/") {
			errs = append(errs, errors.New("cgi directory must start with '/': "+d))
		}
	}
	switch c.Log.Type {
	case LogTypeConsole:
	case LogTypeFile:
		if c.Log.FilePath == "" {
			errs = append(errs, errors.New("log file path is required for the file logger"))
		}
	default:
		errs = append(errs, errors.New("unsupported log type: "+c.Log.Type))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

// getEnvList splits a comma separated value, dropping blank items.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// getEnvMap parses "ext=command,ext2=command2". Extensions are lowercased and lose a leading dot.
func getEnvMap(key string, def map[string]string) map[string]string {
	items := getEnvList(key, nil)
	if items == nil {
		return def
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		k = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(k), "."))
		v = strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
