// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kiliankoe/chartrecall/internal/config"
)

// Setup points the global logger at a human-friendly console and, when a
// log file is configured, at a rotating JSON file as well. The returned
// closer releases the file.
func Setup(cfg config.Config) (io.Closer, error) {
	return setup(cfg, os.Stdout)
}

func setup(cfg config.Config, console io.Writer) (io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(cfg.LogLevel))

	cw := zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	if cfg.LogFile == "" {
		log.Logger = log.Output(cw)
		return nopCloser{}, nil
	}

	if dir := filepath.Dir(cfg.LogFile); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(cw, file)).With().Timestamp().Logger()
	return file, nil
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
