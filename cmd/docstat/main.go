// Package main is the docstat CLI entry point.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docstat/internal/config"
	"github.com/hyperjump/docstat/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/docstat/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present; when neither exists, defaults and
// DOCSTAT_* variables are used. Returns the path that was actually loaded
// ("" for defaults only).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "storage", "analysis", "gateway", "all":
		runService(config.Role(command))
	case "upload":
		runUpload()
	case "result":
		runResult()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("docstat version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, applies --debug, validates role and builds the logger.
// Any failure is fatal.
func setup(configPath string, debug bool, role config.Role) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	if debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(role); err != nil {
		fatalf("Invalid config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug, zap.String("service", string(role)))
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	if resolved == "" {
		resolved = "(defaults)"
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("role", string(role)),
		zap.Bool("debug", cfg.Debug))
	return cfg, logger
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// reorderArgs moves flags (and their values) that appear after positional
// arguments to the front so flag.Parse sees them: Go's flag package stops at
// the first non-flag argument, so "docstat upload a.txt --output json" would
// otherwise treat --output as a file name. Boolean flags must be listed in
// boolFlags since they take no value.
func reorderArgs(args []string, boolFlags map[string]bool) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		name := strings.TrimLeft(a, "-")
		if strings.Contains(name, "=") || boolFlags[name] {
			continue
		}
		if i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}

func newFlagSet(name string) (*flag.FlagSet, *string, *bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	return fs, configPath, debug
}

func printUsage() {
	fmt.Println(`docstat - Text document statistics service

Usage:
  docstat storage [flags]             Run the file storing service
  docstat analysis [flags]            Run the file analysis service
  docstat gateway [flags]             Run the API gateway
  docstat all [flags]                 Run all three services in one process
  docstat upload [flags] <file>       Upload a file through the gateway
  docstat result [flags] <fileId>     Show the analysis result of a file
  docstat status [flags] <fileId>     Show the analysis status of a file
  docstat watch [flags] [dir...]      Upload every file dropped into the inbox directories
  docstat version                     Show version
  docstat help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/docstat/config.yaml)
  --debug            Enable debug logging

Client Flags (upload, result, status):
  --gateway string   Gateway URL (default from config services.gateway_url)
  --output string    Output format: text or json (default: text)
  --wait             upload/result: poll until the analysis finishes
  --wait-timeout     Maximum time to wait (default: 2m)

Watch Flags:
  --gateway string   Gateway URL (default from config services.gateway_url)
  --sync             Upload files already present in the directories (default: true)

Environment:
  DOCSTAT_STORAGE_URL, DOCSTAT_ANALYSIS_URL, DOCSTAT_GATEWAY_URL,
  DOCSTAT_FILES_DB_PATH, DOCSTAT_ANALYSIS_DB_PATH, DOCSTAT_BLOB_BACKEND,
  DOCSTAT_BLOB_ROOT, DOCSTAT_MINIO_*, DOCSTAT_DEBUG override the config file.

Examples:
  docstat all
  docstat upload notes.txt
  docstat upload --wait notes.txt
  docstat result --output json 3f0c...
  docstat watch ~/inbox`)
}
