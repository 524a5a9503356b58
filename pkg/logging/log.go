// Package logging provides the structured logger used throughout the
// storage core: one global zerolog.Logger, configured once at process
// start, with child loggers carrying the identifiers operators actually
// search by (table, transaction, segment, snapshot offset).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured by Init.
var Logger zerolog.Logger

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logger configuration, normally populated from pkg/config.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global Logger. Safe to call once at startup; not
// safe for concurrent reconfiguration.
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
// "commitlog", "snapshot", "datastore".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTableID tags a child logger with the table a log line concerns.
func WithTableID(tableID uint32) zerolog.Logger {
	return Logger.With().Uint32("table_id", tableID).Logger()
}

// WithTxID tags a child logger with the transaction a log line concerns.
func WithTxID(txID uint64) zerolog.Logger {
	return Logger.With().Uint64("tx_id", txID).Logger()
}

// WithSegment tags a child logger with a commit-log segment number.
func WithSegment(segment uint32) zerolog.Logger {
	return Logger.With().Uint32("segment", segment).Logger()
}

// WithSnapshotOffset tags a child logger with the commit offset a snapshot
// was taken at.
func WithSnapshotOffset(offset uint64) zerolog.Logger {
	return Logger.With().Uint64("snapshot_offset", offset).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
