package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cardworks/imagestore/internal/backend/transcode"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}
	return configPath
}

func clearEnvironment(t *testing.T) {
	t.Helper()
	t.Setenv(envEnvironment, "")
	t.Setenv(envDatabaseURL, "")
}

func TestLoadConfig_Success(t *testing.T) {
	clearEnvironment(t)
	configPath := writeConfig(t, `port: 9090
environment: production
database:
  type: mongodb
  connectionString: "mongodb://localhost:27017"
  name: website
  collection: images
transcoding:
  quality: 75
  avifSpeed: 8
cache:
  type: redis
  address: "localhost:6379"
  ttl: 30m
upload:
  maxBytes: 1048576
`)

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != 9090 {
		t.Errorf("Expected port to be 9090, got %d", config.Port)
	}
	if !config.IsProduction() {
		t.Error("Expected production environment")
	}
	if config.Database.Type != "mongodb" || config.Database.ConnectionString != "mongodb://localhost:27017" {
		t.Errorf("Unexpected database config: %+v", config.Database)
	}
	if config.Database.Name != "website" || config.Database.Collection != "images" {
		t.Errorf("Unexpected database names: %+v", config.Database)
	}
	if config.Transcoding.Quality != 75 || config.Transcoding.AVIFSpeed != 8 {
		t.Errorf("Unexpected transcoding config: %+v", config.Transcoding)
	}
	if config.Cache.TTL != 30*time.Minute {
		t.Errorf("Expected cache ttl 30m, got %v", config.Cache.TTL)
	}
	if config.Upload.MaxBytes != 1048576 {
		t.Errorf("Expected maxBytes 1048576, got %d", config.Upload.MaxBytes)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnvironment(t)
	configPath := writeConfig(t, `database:
  connectionString: "mongodb://localhost:27017"
`)

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Port != defaultPort {
		t.Errorf("Expected default port %d, got %d", defaultPort, config.Port)
	}
	if config.Database.Type != "mongodb" {
		t.Errorf("Expected default database type mongodb, got %q", config.Database.Type)
	}
	if config.Transcoding.Quality != 80 || config.Transcoding.AVIFSpeed != 6 {
		t.Errorf("Unexpected transcoding defaults: %+v", config.Transcoding)
	}
	if config.Transcoding.MaxPixels != transcode.DefaultMaxPixels {
		t.Errorf("Expected default maxPixels, got %d", config.Transcoding.MaxPixels)
	}
	if config.Upload.MaxBytes != 4<<20 {
		t.Errorf("Expected default maxBytes of 4 MiB, got %d", config.Upload.MaxBytes)
	}
	if config.IsProduction() {
		t.Error("Expected non-production by default")
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv(envEnvironment, "Production")
	t.Setenv(envDatabaseURL, "mongodb://db:27017")

	configPath := writeConfig(t, `environment: development
database:
  type: mongodb
  connectionString: "mongodb://localhost:27017"
`)

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !config.IsProduction() {
		t.Error("Expected APP_ENV to switch to production")
	}
	if config.Database.ConnectionString != "mongodb://db:27017" {
		t.Errorf("Expected DATABASE_URL override, got %q", config.Database.ConnectionString)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "Unknown database type",
			content: "database:\n  type: postgres\n  connectionString: x\n",
			errPart: "unsupported database type",
		},
		{
			name:    "Missing connection string",
			content: "database:\n  type: sqlite\n",
			errPart: "connectionString",
		},
		{
			name:    "Quality out of range",
			content: "database:\n  type: sqlite\n  connectionString: x\ntranscoding:\n  quality: 120\n",
			errPart: "quality",
		},
		{
			name:    "Negative max pixels",
			content: "database:\n  type: sqlite\n  connectionString: x\ntranscoding:\n  maxPixels: -1\n",
			errPart: "maxPixels",
		},
		{
			name:    "Redis without address",
			content: "database:\n  type: sqlite\n  connectionString: x\ncache:\n  type: redis\n",
			errPart: "cache address",
		},
		{
			name:    "Unknown cache type",
			content: "database:\n  type: sqlite\n  connectionString: x\ncache:\n  type: memcached\n",
			errPart: "unsupported cache type",
		},
		{
			name:    "Malformed YAML",
			content: "port: [",
			errPart: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("Expected error containing %q, got %v", tt.errPart, err)
			}
			if config != nil {
				t.Error("Expected config to be nil on error")
			}
		})
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	config, err := LoadConfig("/path/that/does/not/exist/config.yaml")
	if err == nil {
		t.Fatal("Expected error for non-existent file, got nil")
	}
	if config != nil {
		t.Error("Expected config to be nil when file doesn't exist")
	}
}
