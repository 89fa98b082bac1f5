package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working
// directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string `yaml:"port"`
	LogLevel                 string `yaml:"logLevel"`
	DatabaseURL              string `yaml:"databaseURL"`
	DataDir                  string `yaml:"dataDir"`
	DefaultAlbumName         string `yaml:"defaultAlbumName"`
	MinioEndpoint            string `yaml:"minioEndpoint"`
	MinioAccessKey           string `yaml:"minioAccessKey"`
	MinioSecretKey           string `yaml:"minioSecretKey"`
	MinioBucket              string `yaml:"minioBucket"`
	MinioUseSSL              bool   `yaml:"minioUseSSL"`
	SplatBaseURL             string `yaml:"splatBaseURL"`
	SplatAPIKey              string `yaml:"splatAPIKey"`
	SplatTimeoutSeconds      int    `yaml:"splatTimeoutSeconds"`
	RedisAddr                string `yaml:"redisAddr"`
	RedisPassword            string `yaml:"redisPassword"`
	UploadRateLimitPerMinute int    `yaml:"uploadRateLimitPerMinute"`
	MaxUploadBytes           int64  `yaml:"maxUploadBytes"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("PHOTOSPLAT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("SPLAT_BASE_URL"); v != "" {
		cfg.SplatBaseURL = v
	}
	if v := os.Getenv("SPLAT_API_KEY"); v != "" {
		cfg.SplatAPIKey = v
	}
	if v := os.Getenv("SPLAT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SplatTimeoutSeconds = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("PHOTOSPLAT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.SplatBaseURL == "" {
		return errors.New("config: splatBaseURL is required (set in config.yaml or SPLAT_BASE_URL)")
	}
	if cfg.DatabaseURL == "" && cfg.DataDir == "" {
		return errors.New("config: databaseURL or dataDir is required (set in config.yaml)")
	}
	// Object storage is MinIO when configured, local disk otherwise.
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" {
			return errors.New("config: minioAccessKey is required when minioEndpoint is set")
		}
		if cfg.MinioSecretKey == "" {
			return errors.New("config: minioSecretKey is required when minioEndpoint is set")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
	} else if cfg.DataDir == "" {
		return errors.New("config: dataDir is required when minioEndpoint is not set")
	}
	if cfg.SplatTimeoutSeconds < 0 {
		return errors.New("config: splatTimeoutSeconds must not be negative")
	}
	if cfg.UploadRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when uploadRateLimitPerMinute is set")
	}
	return nil
}
