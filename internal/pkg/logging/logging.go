package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. Dev gets readable text, everything else JSON.
func New(level string, dev bool) *logrus.Logger {
	return NewWithOutput(os.Stdout, level, dev)
}

func NewWithOutput(out io.Writer, level string, dev bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if dev {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		logger.WithField("level", level).Warn("unknown log level, falling back to info")
	}
	logger.SetLevel(lvl)
	return logger
}

// Discard returns a logger that drops everything, for tests and tooling.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// LogError logs err with the module/function context used across handlers.
func LogError(logger logrus.FieldLogger, module, function, message string, fields logrus.Fields, err error) {
	entry := logger.WithFields(logrus.Fields{
		"module":   module,
		"function": function,
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.WithError(err).Error(message)
}
