package app

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

type Level string

const (
	TRACE Level = "TRACE"
	DEBUG Level = "DEBUG"
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
	FATAL Level = "FATAL"
	PANIC Level = "PANIC"
)

var zeroLevels = map[Level]zerolog.Level{
	TRACE: zerolog.TraceLevel,
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
	FATAL: zerolog.FatalLevel,
	PANIC: zerolog.PanicLevel,
}

// NewZeroLogger builds the process-wide logger. Unknown levels fall back
// to INFO rather than failing startup.
func NewZeroLogger(logLevel Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	return zerolog.New(os.Stdout).
		Level(logLevelToZero(logLevel)).
		With().
		Timestamp().
		Caller().
		Logger()
}

func logLevelToZero(level Level) zerolog.Level {
	if zl, ok := zeroLevels[Level(strings.ToUpper(string(level)))]; ok {
		return zl
	}
	return zerolog.InfoLevel
}
