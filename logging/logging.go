// Package logging builds the zap logger used across atshell. Logs go to a
// file: stdout carries directives and stderr is narration for the user.
package logging

import (
	"os"
	"path/filepath"

	"github.com/m4xw311/atshell/config"
	"github.com/m4xw311/atshell/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger writing to cfg.File. An empty file disables
// logging. verbose forces the debug level.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	if cfg.File == "" {
		return zap.NewNop(), nil
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "invalid logging.level %q", cfg.Level), errors.ErrInvocation)
		}
	}
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory")
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Encoding = "json"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{cfg.File}
	zc.ErrorOutputPaths = []string{cfg.File}
	zc.Sampling = nil

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize logger")
	}
	return logger.With(zap.Int("pid", os.Getpid())), nil
}
