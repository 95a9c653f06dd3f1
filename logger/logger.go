/*
Package logger wraps zerolog so every component in the module logs the same way. A root
Logger is built once from a Config and handed down; components derive sub-loggers that
carry their own context fields (component, connection id, transport name).
*/
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogFileSizeMB  = 25
	maxLogFileBackups = 5
	maxLogFileAgeDays = 28
)

type Config struct {
	// If set, JSON logs are written to this file and rotated
	FilePath string

	// Human readable output, e.g. os.Stdout or GinkgoWriter
	ConsoleWriters []io.Writer

	// The zero value is zerolog.DebugLevel
	Level zerolog.Level
}

type Logger struct {
	logger zerolog.Logger
}

func New(config *Config) (*Logger, error) {
	var writers []io.Writer

	if config.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxLogFileSizeMB,
			MaxBackups: maxLogFileBackups,
			MaxAge:     maxLogFileAgeDays,
		})
	}

	for _, w := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:     w,
			NoColor: !isTerminal(w),
		})
	}

	if len(writers) == 0 {
		return nil, fmt.Errorf("no log file path or console writer was provided")
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(config.Level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: logger}, nil
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// ToLogLevel converts a level name such as "info" or "DEBUG" into a zerolog level
func ToLogLevel(level string) (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
}

func (l *Logger) AddClientVersion(version string) {
	l.logger = l.logger.With().Str("clientVersion", version).Logger()
}

func (l *Logger) GetComponentLogger(component string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

func (l *Logger) GetConnectionLogger(connectionId string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("connectionId", connectionId).Logger(),
	}
}

func (l *Logger) GetTransportLogger(transportName string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("transport", transportName).Logger(),
	}
}

func (l *Logger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, a ...interface{}) {
	l.logger.Trace().Msgf(format, a...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.logger.Debug().Msgf(format, a...)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.logger.Info().Msgf(format, a...)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.logger.Warn().Msgf(format, a...)
}

func (l *Logger) Error(err error) {
	l.logger.Error().Err(err).Send()
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.logger.Error().Msgf(format, a...)
}
