package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	Logger zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

func ParseLevel(inlevel string) zerolog.Level {
	switch strings.ToLower(inlevel) {
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func LogInit(inlevel string) {
	LogInitTo(os.Stderr, inlevel, Config.GetString("log_format"))
}

// LogInitTo builds the logger on out. format "json" writes raw zerolog JSON,
// anything else the human console format.
func LogInitTo(out io.Writer, inlevel string, format string) {
	level := ParseLevel(inlevel)
	var w io.Writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	if strings.ToLower(format) == "json" {
		w = out
	}
	Logger = zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()

	Logger.Info().Msgf("logging initialized at level %v", level)
}
