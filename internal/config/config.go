// Package config provides configuration loading and structs for the docstat services.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role names a process role whose required settings Validate checks.
type Role string

const (
	RoleStorage  Role = "storage"
	RoleAnalysis Role = "analysis"
	RoleGateway  Role = "gateway"
	RoleAll      Role = "all"
	RoleClient   Role = "client"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Services ServicesConfig `yaml:"services"`
	Storage  StorageConfig  `yaml:"storage"`
	Blob     BlobConfig     `yaml:"blob"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Client   ClientConfig   `yaml:"client"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ListenConfig is the address one service listens on.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (l ListenConfig) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// ServerConfig holds HTTP server settings per role.
type ServerConfig struct {
	Storage        ListenConfig `yaml:"storage"`
	Analysis       ListenConfig `yaml:"analysis"`
	Gateway        ListenConfig `yaml:"gateway"`
	MaxUploadBytes int64        `yaml:"max_upload_bytes"`
}

// ServicesConfig holds the base URLs services use to reach each other.
type ServicesConfig struct {
	StorageURL  string `yaml:"storage_url"`
	AnalysisURL string `yaml:"analysis_url"`
	GatewayURL  string `yaml:"gateway_url"`
}

// StorageConfig holds paths for the metadata databases.
type StorageConfig struct {
	FilesDBPath    string `yaml:"files_db_path"`
	AnalysisDBPath string `yaml:"analysis_db_path"`
}

// BlobConfig selects where uploaded content is kept.
type BlobConfig struct {
	Backend     string      `yaml:"backend"`
	Root        string      `yaml:"root"`
	Compression bool        `yaml:"compression"`
	MinIO       MinIOConfig `yaml:"minio"`
}

// MinIOConfig holds S3-compatible object storage settings.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// AnalysisConfig tunes the analysis worker pool.
type AnalysisConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	WordCloudSize int           `yaml:"word_cloud_size"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StuckAfter    time.Duration `yaml:"stuck_after"`
}

// ClientConfig holds outbound HTTP settings.
type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies DOCSTAT_* environment
// overrides and defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg, os.LookupEnv)
	ApplyDefaults(&cfg)
	expandPaths(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// Default returns a config built only from defaults and the environment,
// for running without a config file.
func Default() *Config {
	var cfg Config
	ApplyEnv(&cfg, os.LookupEnv)
	ApplyDefaults(&cfg)
	if cwd, err := os.Getwd(); err == nil {
		expandPaths(&cfg, cwd)
	}
	return &cfg
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Storage.FilesDBPath = expandPath(cfg.Storage.FilesDBPath, configDir)
	cfg.Storage.AnalysisDBPath = expandPath(cfg.Storage.AnalysisDBPath, configDir)
	cfg.Blob.Root = expandPath(cfg.Blob.Root, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
}

// ApplyEnv overrides settings from DOCSTAT_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("DOCSTAT_STORAGE_URL", &cfg.Services.StorageURL)
	set("DOCSTAT_ANALYSIS_URL", &cfg.Services.AnalysisURL)
	set("DOCSTAT_GATEWAY_URL", &cfg.Services.GatewayURL)
	set("DOCSTAT_FILES_DB_PATH", &cfg.Storage.FilesDBPath)
	set("DOCSTAT_ANALYSIS_DB_PATH", &cfg.Storage.AnalysisDBPath)
	set("DOCSTAT_BLOB_BACKEND", &cfg.Blob.Backend)
	set("DOCSTAT_BLOB_ROOT", &cfg.Blob.Root)
	set("DOCSTAT_MINIO_ENDPOINT", &cfg.Blob.MinIO.Endpoint)
	set("DOCSTAT_MINIO_ACCESS_KEY", &cfg.Blob.MinIO.AccessKey)
	set("DOCSTAT_MINIO_SECRET_KEY", &cfg.Blob.MinIO.SecretKey)
	set("DOCSTAT_MINIO_BUCKET", &cfg.Blob.MinIO.Bucket)
	if v, ok := lookup("DOCSTAT_DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// Validate reports every required setting missing for role.
func (c *Config) Validate(role Role) error {
	var missing []string
	need := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}
	storage := func() {
		need(c.Storage.FilesDBPath != "", "storage.files_db_path")
		switch c.Blob.Backend {
		case "disk", "":
			need(c.Blob.Root != "", "blob.root")
		case "minio":
			need(c.Blob.MinIO.Endpoint != "", "blob.minio.endpoint")
			need(c.Blob.MinIO.Bucket != "", "blob.minio.bucket")
		default:
			missing = append(missing, fmt.Sprintf("blob.backend (unknown %q)", c.Blob.Backend))
		}
	}
	analysis := func() {
		need(c.Storage.AnalysisDBPath != "", "storage.analysis_db_path")
	}

	switch role {
	case RoleStorage:
		storage()
		need(c.Services.AnalysisURL != "", "services.analysis_url")
	case RoleAnalysis:
		analysis()
		need(c.Services.StorageURL != "", "services.storage_url")
	case RoleGateway:
		need(c.Services.StorageURL != "", "services.storage_url")
		need(c.Services.AnalysisURL != "", "services.analysis_url")
	case RoleAll:
		storage()
		analysis()
		need(c.Services.StorageURL != "", "services.storage_url")
		need(c.Services.AnalysisURL != "", "services.analysis_url")
	case RoleClient:
		need(c.Services.GatewayURL != "", "services.gateway_url")
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	if len(missing) > 0 {
		return errors.New("missing required config for " + string(role) + ": " + strings.Join(missing, ", "))
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
