package core

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cardworks/imagestore/internal/backend/cache"
	"github.com/cardworks/imagestore/internal/backend/database"
	"github.com/cardworks/imagestore/internal/backend/transcode"
)

const (
	EnvironmentProduction = "production"

	defaultPort           = 8080
	// Keeps the original plus its re-encodes inside a 16 MiB MongoDB document.
	defaultMaxUploadBytes = 4 << 20

	envEnvironment = "APP_ENV"
	envDatabaseURL = "DATABASE_URL"
)

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
	Name             string `yaml:"name"`
	Collection       string `yaml:"collection"`
}

type Transcoding struct {
	Quality   int   `yaml:"quality"`
	AVIFSpeed int   `yaml:"avifSpeed"`
	Workers   int   `yaml:"workers"`
	MaxPixels int64 `yaml:"maxPixels"`
}

type Cache struct {
	Type     string        `yaml:"type"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type Upload struct {
	MaxBytes int64 `yaml:"maxBytes"`
}

type ServiceConfig struct {
	Port        int         `yaml:"port"`
	Environment string      `yaml:"environment"`
	Database    Database    `yaml:"database"`
	Transcoding Transcoding `yaml:"transcoding"`
	Cache       Cache       `yaml:"cache"`
	Upload      Upload      `yaml:"upload"`
}

// IsProduction decides the cache header policy of served images.
func (c *ServiceConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyEnvironment()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvironment lets deployments override the file without editing it.
func (c *ServiceConfig) applyEnvironment() {
	if env := os.Getenv(envEnvironment); env != "" {
		c.Environment = env
	}
	if url := os.Getenv(envDatabaseURL); url != "" {
		c.Database.ConnectionString = url
	}
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Database.Type == "" {
		c.Database.Type = database.TypeMongoDB
	}
	if c.Transcoding.Quality == 0 {
		c.Transcoding.Quality = transcode.DefaultQuality
	}
	if c.Transcoding.AVIFSpeed == 0 {
		c.Transcoding.AVIFSpeed = transcode.DefaultAVIFSpeed
	}
	if c.Transcoding.MaxPixels == 0 {
		c.Transcoding.MaxPixels = transcode.DefaultMaxPixels
	}
	if c.Cache.Type == cache.TypeRedis && c.Cache.TTL == 0 {
		c.Cache.TTL = cache.DefaultTTL
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = defaultMaxUploadBytes
	}
}

// Validate reports the first invalid setting.
func (c *ServiceConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}

	switch c.Database.Type {
	case database.TypeSQLite, database.TypeMongoDB:
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.ConnectionString == "" {
		return errors.New("database connectionString is required")
	}

	if c.Transcoding.Quality < 1 || c.Transcoding.Quality > 100 {
		return fmt.Errorf("transcoding quality must be in [1,100], got %d", c.Transcoding.Quality)
	}
	if c.Transcoding.AVIFSpeed < 1 || c.Transcoding.AVIFSpeed > 10 {
		return fmt.Errorf("transcoding avifSpeed must be in [1,10], got %d", c.Transcoding.AVIFSpeed)
	}
	if c.Transcoding.Workers < 0 {
		return fmt.Errorf("transcoding workers must not be negative, got %d", c.Transcoding.Workers)
	}
	if c.Transcoding.MaxPixels < 0 {
		return fmt.Errorf("transcoding maxPixels must not be negative, got %d", c.Transcoding.MaxPixels)
	}

	switch c.Cache.Type {
	case cache.TypeNone, "none":
	case cache.TypeRedis:
		if c.Cache.Address == "" {
			return errors.New("cache address is required for redis")
		}
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}

	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload maxBytes must not be negative, got %d", c.Upload.MaxBytes)
	}
	return nil
}
