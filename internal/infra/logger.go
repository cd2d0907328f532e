package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs the process logger. Development gets debug level and
// console output; everything else gets JSON at info level.
func NewLogger(appEnv, service string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	ctx := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp()
	if service != "" {
		ctx = ctx.Str("service", service)
	}
	logger := ctx.Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Logger aliases zerolog.Logger so packages can accept a logger without
// importing zerolog themselves.
type Logger = zerolog.Logger
