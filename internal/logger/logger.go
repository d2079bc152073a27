// Package logger provides the zerolog constructor shared by all binaries.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// InitLog returns a logger writing RFC3339-stamped JSON lines to stderr, tagged with the service name.
func InitLog(service string) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	Logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", service).Logger()
	return &Logger
}
