package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docstat/internal/apperr"
	"github.com/hyperjump/docstat/internal/cli"
	"github.com/hyperjump/docstat/internal/client"
	"github.com/hyperjump/docstat/internal/config"
	"github.com/hyperjump/docstat/internal/models"
	"github.com/hyperjump/docstat/internal/watcher"
	"github.com/hyperjump/docstat/pkg/utils"
)

const (
	defaultWaitTimeout = 2 * time.Minute
	pollInterval       = 500 * time.Millisecond
)

var clientBoolFlags = map[string]bool{"debug": true, "wait": true, "sync": true}

// clientFlags are shared by the commands that talk to the gateway.
type clientFlags struct {
	fs          *flag.FlagSet
	configPath  *string
	debug       *bool
	gateway     *string
	output      *string
	wait        *bool
	waitTimeout *time.Duration
}

func newClientFlags(name string) *clientFlags {
	fs, configPath, debug := newFlagSet(name)
	return &clientFlags{
		fs:          fs,
		configPath:  configPath,
		debug:       debug,
		gateway:     fs.String("gateway", "", "gateway URL (default from config)"),
		output:      fs.String("output", "text", "output format: text or json"),
		wait:        fs.Bool("wait", false, "poll until the analysis finishes"),
		waitTimeout: fs.Duration("wait-timeout", defaultWaitTimeout, "maximum time to wait"),
	}
}

// parse parses args and returns the config, the output format and the single
// positional argument; usage is printed and the process exits when it is missing.
func (f *clientFlags) parse(args []string, usage string) (*config.Config, cli.OutputFormat, string) {
	_ = f.fs.Parse(reorderArgs(args, clientBoolFlags))
	if f.fs.NArg() != 1 {
		fmt.Println("Usage: " + usage)
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*f.output)
	if err != nil {
		fatalf("%v", err)
	}
	cfg, _ := f.setup()
	return cfg, format, f.fs.Arg(0)
}

func (f *clientFlags) setup() (*config.Config, *zap.Logger) {
	cfg, _, err := loadConfig(*f.configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	if *f.gateway != "" {
		cfg.Services.GatewayURL = *f.gateway
	}
	if *f.debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(config.RoleClient); err != nil {
		fatalf("Invalid config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	return cfg, logger
}

func runUpload() {
	f := newClientFlags("upload")
	cfg, format, path := f.parse(os.Args[2:], "docstat upload [flags] <file>")

	file, err := os.Open(path)
	if err != nil {
		fatalf("Failed to open file: %v", err)
	}
	defer file.Close()

	ctx, cancel := signalContext()
	defer cancel()

	storageClient := client.NewStorageClient(cfg.Services.GatewayURL, client.GatewayPrefix, cfg.Client.Timeout)
	resp, err := storageClient.Upload(ctx, filepath.Base(path), file)
	if err != nil {
		fatalf("Upload failed: %v", err)
	}
	if !*f.wait {
		if err := cli.WriteUpload(os.Stdout, filepath.Base(path), resp, format); err != nil {
			fatalf("%v", err)
		}
		return
	}
	if format == cli.OutputText {
		_ = cli.WriteUpload(os.Stdout, filepath.Base(path), resp, format)
		fmt.Println()
	}
	analysisClient := client.NewAnalysisClient(cfg.Services.GatewayURL, client.GatewayPrefix, cfg.Client.Timeout)
	result, err := waitForResult(ctx, analysisClient, resp.FileID, *f.waitTimeout, pollInterval)
	if err != nil {
		fatalf("Waiting for analysis failed: %v", err)
	}
	if err := cli.WriteResult(os.Stdout, result, format); err != nil {
		fatalf("%v", err)
	}
}

func runResult() {
	f := newClientFlags("result")
	cfg, format, fileID := f.parse(os.Args[2:], "docstat result [flags] <fileId>")

	ctx, cancel := signalContext()
	defer cancel()

	analysisClient := client.NewAnalysisClient(cfg.Services.GatewayURL, client.GatewayPrefix, cfg.Client.Timeout)
	var (
		result *models.AnalysisResultDTO
		err    error
	)
	if *f.wait {
		result, err = waitForResult(ctx, analysisClient, fileID, *f.waitTimeout, pollInterval)
	} else {
		result, err = analysisClient.Result(ctx, fileID)
	}
	if failed := asFailed(err); failed != nil {
		result, err = failed, nil
	}
	if err != nil {
		fatalf("Result failed: %v", err)
	}
	if err := cli.WriteResult(os.Stdout, result, format); err != nil {
		fatalf("%v", err)
	}
}

func runStatus() {
	f := newClientFlags("status")
	cfg, format, fileID := f.parse(os.Args[2:], "docstat status [flags] <fileId>")

	ctx, cancel := signalContext()
	defer cancel()

	analysisClient := client.NewAnalysisClient(cfg.Services.GatewayURL, client.GatewayPrefix, cfg.Client.Timeout)
	status, err := analysisClient.Status(ctx, fileID)
	if err != nil {
		fatalf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("%v", err)
	}
}

// resultFetcher is the part of the analysis client waitForResult polls.
type resultFetcher interface {
	Result(ctx context.Context, fileID string) (*models.AnalysisResultDTO, error)
}

// waitForResult polls until the job for fileID is Completed or Failed.
// A job that does not exist yet is polled like a Pending one, since the
// trigger from an upload is asynchronous. Unavailable errors are retried until
// timeout; the last one is reported then.
func waitForResult(ctx context.Context, c resultFetcher, fileID string, timeout, interval time.Duration) (*models.AnalysisResultDTO, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastErr error
	timedOut := func() error {
		if lastErr != nil {
			return fmt.Errorf("analysis of %s did not finish within %s: %w", fileID, timeout, lastErr)
		}
		return fmt.Errorf("analysis of %s did not finish within %s", fileID, timeout)
	}
	for {
		result, err := c.Result(ctx, fileID)
		if err != nil && ctx.Err() != nil {
			return nil, timedOut()
		}
		switch {
		case err == nil && result.Status.Terminal():
			return result, nil
		case asFailed(err) != nil:
			return asFailed(err), nil
		case apperr.Is(err, apperr.Unavailable):
			lastErr = err
		case err != nil && !apperr.Is(err, apperr.NotFound):
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, timedOut()
		case <-ticker.C:
		}
	}
}

// asFailed converts a failed-analysis error into the result it describes.
func asFailed(err error) *models.AnalysisResultDTO {
	var failed *client.FailedError
	if !errors.As(err, &failed) {
		return nil
	}
	return &models.AnalysisResultDTO{FileID: failed.FileID, Status: models.JobStatusFailed, ErrorMessage: failed.Message}
}

func runWatch() {
	f := newClientFlags("watch")
	syncExisting := f.fs.Bool("sync", true, "upload files already present in the directories")
	_ = f.fs.Parse(reorderArgs(os.Args[2:], clientBoolFlags))
	cfg, logger := f.setup()
	defer logger.Sync()

	dirs := cfg.Watch.Directories
	if f.fs.NArg() > 0 {
		dirs = nil
		for _, d := range f.fs.Args() {
			abs, err := filepath.Abs(d)
			if err != nil {
				fatalf("Invalid directory %q: %v", d, err)
			}
			dirs = append(dirs, abs)
		}
	}
	if len(dirs) == 0 {
		fatalf("No directories to watch: pass them as arguments or set watch.directories")
	}

	uploader := client.NewStorageClient(cfg.Services.GatewayURL, client.GatewayPrefix, cfg.Client.Timeout)
	inbox := watcher.NewInbox(dirs, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault(), uploader,
		watcher.WithLogger(logger),
		watcher.WithUploadTimeout(cfg.Client.Timeout))

	ctx, cancel := signalContext()
	defer cancel()
	if err := inbox.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	if *syncExisting {
		inbox.SyncExistingFiles()
	}
	<-ctx.Done()
	logger.Info("Shutting down...")
	inbox.Stop()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
