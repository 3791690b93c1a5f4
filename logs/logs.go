// Package logs owns the process-wide logrus logger.
package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is shared by every package. It is usable before Init is called.
var Logger = logrus.New()

type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	Dir    string // log directory, empty disables the log file
}

// Init configures Logger. When a directory is given a timestamped log file
// is created in it and output goes to both the console and the file.
// The returned file (nil without a directory) must be closed by the caller.
func Init(opts Options) (*os.File, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)

	switch strings.ToLower(opts.Format) {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"})
	}

	if opts.Dir == "" {
		Logger.SetOutput(os.Stdout)
		return nil, nil
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		Logger.SetOutput(os.Stdout)
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// log/2025-12-08_21-52-35.log
	logPath := filepath.Join(opts.Dir, time.Now().Format("2006-01-02_15-04-05")+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		Logger.SetOutput(os.Stdout)
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	Logger.SetOutput(io.MultiWriter(os.Stdout, logFile))
	Logger.Infof("Logging to: %s", logPath)
	return logFile, nil
}
