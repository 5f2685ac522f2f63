package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func NewLogger(level string) *zerolog.Logger {
	return NewLoggerTo(level, os.Stdout)
}

// NewLoggerWithFile logs to stdout and, when path is set, to a rotating file.
// The returned closer flushes the file sink.
func NewLoggerWithFile(level, path string) (*zerolog.Logger, io.Closer) {
	if path == "" {
		return NewLogger(level), nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MB
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	return NewLoggerTo(level, zerolog.MultiLevelWriter(os.Stdout, file)), file
}

func NewLoggerTo(level string, w io.Writer) *zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Str("version", Version).Logger()
	return &logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
