package main

import (
	"io"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// newLogger builds the daemon logger. format is "console" for human
// readable output or "json".
func newLogger(level, format string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), errors.NotValidf("log level %q", level)
	}

	switch strings.ToLower(format) {
	case "json":
	case "console", "":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), errors.NotValidf("log format %q", format)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
