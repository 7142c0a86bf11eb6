// Package logging wires a single zerolog.Logger for the process. Every
// long-running component tags its lines with a "component" field
// (venue.binance, aggregator, hub, twap, httpapi), the same role the
// teacher repository's bracketed "[Hub]"/"[Binance]" prefixes play.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. In development it writes a
// human-readable console stream; in production it writes structured
// JSON suitable for ingestion by a log pipeline.
func New(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writer = os.Stdout
	if environment != "production" {
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(console).With().Timestamp().Logger()
	}
	return zerolog.New(writer).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the given component
// name, the convention every package in this repo follows for its
// first log call.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
