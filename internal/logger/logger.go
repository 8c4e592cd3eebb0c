// Package logger builds the process slog.Logger: colored console output in
// development, JSON in production, and optionally a rotating log file.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type options struct {
	level     *slog.LevelVar
	logToFile bool
	logFile   string
	out       io.Writer
}

type Option func(*options)

// WithLevel shares a LevelVar so the level can be changed after construction.
func WithLevel(lv *slog.LevelVar) Option {
	return func(o *options) { o.level = lv }
}

func WithLogToFile(b bool) Option {
	return func(o *options) { o.logToFile = b }
}

func WithLogFile(path string) Option {
	return func(o *options) { o.logFile = path }
}

// WithOutput replaces stderr as the console destination.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// New returns a logger for env. Anything other than EnvProd is treated as
// development.
func New(env string, opts ...Option) *slog.Logger {
	o := &options{
		level:   new(slog.LevelVar),
		logFile: "logs/blurb.log",
		out:     os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}

	var console slog.Handler
	if env == EnvProd {
		console = slog.NewJSONHandler(o.out, &slog.HandlerOptions{Level: o.level})
	} else {
		console = tint.NewHandler(o.out, &tint.Options{
			Level:      o.level,
			TimeFormat: time.Kitchen,
		})
	}

	if !o.logToFile {
		return slog.New(console)
	}

	file := slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   o.logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}, &slog.HandlerOptions{Level: o.level})

	return slog.New(slogmulti.Fanout(console, file))
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown names
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
