package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"aridialer/internal/config"
)

var logFile *lumberjack.Logger

// Setup configures the standard logrus logger from the log section.
// Output goes to stdout and, when a file is configured, to a rotated file.
func Setup(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		logFile = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
		}
		out = io.MultiWriter(os.Stdout, logFile)
	}
	logrus.SetOutput(out)
	return nil
}

// Close flushes and closes the log file, if any.
func Close() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// Component returns an entry tagged with the component name
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
