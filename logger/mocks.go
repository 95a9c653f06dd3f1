package logger

import (
	"io"

	"github.com/rs/zerolog"
)

func MockLogger(writer io.Writer) *Logger {
	config := &Config{
		ConsoleWriters: []io.Writer{writer},
		Level:          zerolog.TraceLevel,
	}

	if logger, err := New(config); err == nil {
		return logger
	}
	return nil
}
