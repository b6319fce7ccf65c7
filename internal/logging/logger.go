package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logr logger backed by zap writing to stderr at the given
// level.
func New(level string) (logr.Logger, error) {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter is New with an explicit sink. Debug level switches to the
// development encoder with caller information.
func NewWithWriter(level string, w io.Writer) (logr.Logger, error) {
	zapLevel, dev, err := ParseLevel(level)
	if err != nil {
		return logr.Logger{}, err
	}
	var encCfg zapcore.EncoderConfig
	if dev {
		encCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zap.NewAtomicLevelAt(zapLevel),
	)
	opts := []zap.Option{}
	if dev {
		opts = append(opts, zap.AddCaller(), zap.Development())
	}
	return zapr.NewLogger(zap.New(core, opts...)), nil
}

// ParseLevel maps a level name onto a zap level. The second result reports
// whether development output was requested.
func ParseLevel(level string) (zapcore.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, true, nil
	case "info", "":
		return zapcore.InfoLevel, false, nil
	case "warn", "warning":
		return zapcore.WarnLevel, false, nil
	case "error":
		return zapcore.ErrorLevel, false, nil
	default:
		return zapcore.InfoLevel, false, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", level)
	}
}
