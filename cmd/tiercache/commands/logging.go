package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/tiercache/config"
	logruslog "github.com/unkn0wn-root/tiercache/log/logrus"
	sloglog "github.com/unkn0wn-root/tiercache/log/slog"
	zaplog "github.com/unkn0wn-root/tiercache/log/zap"
	"github.com/unkn0wn-root/tiercache/logger"
)

// logging holds the library logger and the slog logger the event hooks
// write to. sync flushes buffered output on exit.
type logging struct {
	log  logger.Logger
	slog *slog.Logger
	sync func() error
}

func newLogging(cfg config.LoggingConfig, out io.Writer) (*logging, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging: level %q: %w", cfg.Level, err)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if cfg.Format == "console" {
		h = slog.NewTextHandler(out, hopts)
	} else {
		h = slog.NewJSONHandler(out, hopts)
	}
	sl := slog.New(h)
	noSync := func() error { return nil }

	switch strings.ToLower(cfg.Backend) {
	case "slog":
		return &logging{log: sloglog.New(sl), slog: sl, sync: noSync}, nil

	case "logrus":
		lr := logrus.New()
		lr.SetOutput(out)
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		lr.SetLevel(level)
		if cfg.Format == "console" {
			lr.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			lr.SetFormatter(&logrus.JSONFormatter{})
		}
		return &logging{log: logruslog.New(lr), slog: sl, sync: noSync}, nil

	default:
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		if cfg.Format == "console" {
			enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		}
		zl := zap.New(zapcore.NewCore(enc, zapcore.AddSync(out), level))
		return &logging{log: zaplog.New(zl), slog: sl, sync: zl.Sync}, nil
	}
}

func stderrLogging(cfg config.LoggingConfig) (*logging, error) {
	return newLogging(cfg, os.Stderr)
}
