package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docstat/internal/analysis"
	"github.com/hyperjump/docstat/internal/blob"
	"github.com/hyperjump/docstat/internal/client"
	"github.com/hyperjump/docstat/internal/config"
	"github.com/hyperjump/docstat/internal/contentstore"
	"github.com/hyperjump/docstat/internal/models"
	"github.com/hyperjump/docstat/internal/server"
	"github.com/hyperjump/docstat/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func runService(role config.Role) {
	fs, configPath, debug := newFlagSet(string(role))
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug, role)
	defer logger.Sync()

	components, err := initializeComponents(cfg, role, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if components.Orchestrator != nil {
		components.Orchestrator.Start()
	}
	for _, srv := range components.Servers {
		go func(srv *server.Server) {
			if err := srv.Start(); err != nil {
				logger.Fatal("Server failed", zap.Error(err))
			}
		}(srv)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	components.Shutdown(ctx, logger)
}

// Components holds the services a role runs.
type Components struct {
	Catalog      storage.FileCatalog
	Jobs         storage.JobStore
	Blobs        blob.Store
	Content      *contentstore.Service
	Orchestrator *analysis.Orchestrator
	Servers      []*server.Server
}

// Shutdown stops HTTP servers first, then the workers.
func (c *Components) Shutdown(ctx context.Context, logger *zap.Logger) {
	for _, srv := range c.Servers {
		if err := srv.Stop(ctx); err != nil {
			logger.Warn("server shutdown failed", zap.Error(err))
		}
	}
	if c.Orchestrator != nil {
		if err := c.Orchestrator.Shutdown(ctx); err != nil {
			logger.Warn("analysis shutdown incomplete", zap.Error(err))
		}
	}
}

func (c *Components) Close() {
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Jobs != nil {
		_ = c.Jobs.Close()
	}
	if c.Blobs != nil {
		_ = c.Blobs.Close()
	}
}

func initializeComponents(cfg *config.Config, role config.Role, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	if err := c.build(cfg, role, logger); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(cfg *config.Config, role config.Role, logger *zap.Logger) error {
	runStorage := role == config.RoleStorage || role == config.RoleAll
	runAnalysis := role == config.RoleAnalysis || role == config.RoleAll

	if runAnalysis {
		jobs, err := storage.NewSQLiteJobStore(cfg.Storage.AnalysisDBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize analysis database: %w", err)
		}
		c.Jobs = jobs
	}

	if runStorage {
		catalog, err := storage.NewSQLiteFileCatalog(cfg.Storage.FilesDBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize files database: %w", err)
		}
		c.Catalog = catalog
		blobs, err := blob.NewStore(context.Background(), blobOptions(cfg.Blob))
		if err != nil {
			return fmt.Errorf("failed to initialize blob store: %w", err)
		}
		c.Blobs = blobs
		logger.Info("blob store initialized",
			zap.String("backend", cfg.Blob.Backend),
			zap.Bool("compression", cfg.Blob.Compression))
	}

	switch role {
	case config.RoleStorage:
		notifier := client.NewAnalysisClient(cfg.Services.AnalysisURL, client.InternalPrefix, cfg.Client.Timeout)
		c.Content = contentstore.New(c.Catalog, c.Blobs,
			contentstore.WithNotifier(notifier),
			contentstore.WithLogger(logger))
	case config.RoleAnalysis:
		fetcher := client.NewStorageClient(cfg.Services.StorageURL, client.InternalPrefix, cfg.Client.Timeout)
		c.Orchestrator = analysis.New(c.Jobs, fetcher, analysisOptions(cfg.Analysis), logger)
	case config.RoleAll:
		// In one process content is read and analysis triggered without HTTP.
		notifier := &orchestratorNotifier{}
		c.Content = contentstore.New(c.Catalog, c.Blobs,
			contentstore.WithNotifier(notifier),
			contentstore.WithLogger(logger))
		c.Orchestrator = analysis.New(c.Jobs, analysis.LocalFetcher{Store: c.Content}, analysisOptions(cfg.Analysis), logger)
		notifier.orch = c.Orchestrator
	}

	if runStorage {
		handler := server.NewStorageRouter(c.Content, cfg.Server.MaxUploadBytes, logger)
		c.Servers = append(c.Servers, server.NewServer("storage", cfg.Server.Storage.Addr(), handler, logger))
	}
	if runAnalysis {
		handler := server.NewAnalysisRouter(c.Orchestrator, logger)
		c.Servers = append(c.Servers, server.NewServer("analysis", cfg.Server.Analysis.Addr(), handler, logger))
	}
	if role == config.RoleGateway || role == config.RoleAll {
		handler, err := server.NewGatewayRouter(cfg.Services.StorageURL, cfg.Services.AnalysisURL, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize gateway: %w", err)
		}
		c.Servers = append(c.Servers, server.NewServer("gateway", cfg.Server.Gateway.Addr(), handler, logger))
	}
	return nil
}

func blobOptions(cfg config.BlobConfig) blob.Options {
	return blob.Options{
		Backend:  blob.Backend(cfg.Backend),
		Root:     cfg.Root,
		Compress: cfg.Compression,
		MinIO: blob.MinIOOptions{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			Prefix:    cfg.MinIO.Prefix,
		},
	}
}

func analysisOptions(cfg config.AnalysisConfig) analysis.Options {
	return analysis.Options{
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		WordCloudSize: cfg.WordCloudSize,
		JobTimeout:    cfg.JobTimeout,
		SweepInterval: cfg.SweepInterval,
		StuckAfter:    cfg.StuckAfter,
	}
}

// orchestratorNotifier triggers analysis in-process.
type orchestratorNotifier struct {
	orch *analysis.Orchestrator
}

func (n *orchestratorNotifier) Trigger(ctx context.Context, fileID string) (*models.AnalysisTriggerResponse, error) {
	status, _, err := n.orch.Trigger(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return &models.AnalysisTriggerResponse{FileID: fileID, Status: status}, nil
}
