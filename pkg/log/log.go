// Package log provides structured logging for shad using zerolog.
//
// All core packages (transport, catalog, localmap, localset, aggregate, ...)
// log through the package-level Logger rather than fmt or the stdlib log
// package, so that every line carries the same JSON shape and can be
// filtered by component and locality.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init (re)initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with a component name, e.g.
// "transport", "catalog", "localmap".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithLocality creates a child logger tagged with a locality id.
func WithLocality(id uint16) zerolog.Logger {
	return Logger.With().Uint16("locality", id).Logger()
}

// WithObjectID creates a child logger tagged with a distributed object id,
// formatted as hex so the owning locality (high bits) is visible at a glance.
func WithObjectID(id uint64) zerolog.Logger {
	return Logger.With().Str("oid", formatOID(id)).Logger()
}

func formatOID(id uint64) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hextable[id&0xf]
		id >>= 4
	}
	return string(buf)
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

// Fatal logs at fatal level and terminates the process. Reserved for the
// programming-error class of fault (§7): saturation of an object-id counter,
// use of a catalog handle on the wrong locality, double-destroy, and similar
// conditions that have no local recovery.
func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

func Fatalf(format string, err error) {
	Logger.Fatal().Err(err).Msg(format)
}
