package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"Go2TopTalk/internal/config"
)

// Setup configures the process-wide logrus logger from the log section of
// the configuration.
func Setup(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}

// WithComponent returns a logger entry tagged with the component name.
func WithComponent(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
