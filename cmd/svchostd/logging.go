package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nupi-ai/svchost/internal/config"
)

// newLogger builds the daemon logger. Output goes to stderr and, when logDir
// is set, to svchostd.log inside it.
func newLogger(level string, dev bool, logDir string) (*zap.Logger, error) {
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = atomic
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("create logs directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, filepath.Join(logDir, "svchostd.log"))
	}

	return cfg.Build()
}

func loggerFor(flags *globalFlags) (*zap.Logger, error) {
	paths, err := config.EnsureInstanceDirs(flags.instance)
	if err != nil {
		return nil, fmt.Errorf("prepare instance directories: %w", err)
	}
	return newLogger(flags.logLevel, flags.dev, paths.Logs)
}
