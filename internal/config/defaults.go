package config

import (
	"fmt"
	"time"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	defaultListen(&cfg.Server.Storage, 8081)
	defaultListen(&cfg.Server.Analysis, 8082)
	defaultListen(&cfg.Server.Gateway, 8080)
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 64 << 20
	}
	if cfg.Services.StorageURL == "" {
		cfg.Services.StorageURL = localURL(cfg.Server.Storage)
	}
	if cfg.Services.AnalysisURL == "" {
		cfg.Services.AnalysisURL = localURL(cfg.Server.Analysis)
	}
	if cfg.Services.GatewayURL == "" {
		cfg.Services.GatewayURL = localURL(cfg.Server.Gateway)
	}
	if cfg.Storage.FilesDBPath == "" {
		cfg.Storage.FilesDBPath = "/usr/local/var/docstat/data/db/files.db"
	}
	if cfg.Storage.AnalysisDBPath == "" {
		cfg.Storage.AnalysisDBPath = "/usr/local/var/docstat/data/db/analysis.db"
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "disk"
	}
	if cfg.Blob.Backend == "disk" && cfg.Blob.Root == "" {
		cfg.Blob.Root = "/usr/local/var/docstat/data/blobs"
	}
	if cfg.Blob.MinIO.Bucket == "" {
		cfg.Blob.MinIO.Bucket = "docstat-files"
	}
	if cfg.Analysis.Workers == 0 {
		cfg.Analysis.Workers = 4
	}
	if cfg.Analysis.QueueSize == 0 {
		cfg.Analysis.QueueSize = 256
	}
	if cfg.Analysis.WordCloudSize == 0 {
		cfg.Analysis.WordCloudSize = 50
	}
	if cfg.Analysis.JobTimeout == 0 {
		cfg.Analysis.JobTimeout = 2 * time.Minute
	}
	if cfg.Analysis.SweepInterval == 0 {
		cfg.Analysis.SweepInterval = 30 * time.Second
	}
	if cfg.Analysis.StuckAfter == 0 {
		cfg.Analysis.StuckAfter = 10 * time.Minute
	}
	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = 30 * time.Second
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

func defaultListen(l *ListenConfig, port int) {
	if l.Host == "" {
		l.Host = "localhost"
	}
	if l.Port == 0 {
		l.Port = port
	}
}

func localURL(l ListenConfig) string {
	host := l.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, l.Port)
}
