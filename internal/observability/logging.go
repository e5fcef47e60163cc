package observability

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process-wide zerolog logger. Pipeline stages
// log through it (directly or via LoggerWithTrace); nothing else in the
// module touches logger state after startup.
//
// logPath, when non-empty, redirects all output to that file in append
// mode; an unopenable file falls back to stdout with a note on stderr so
// the process still comes up. level accepts zerolog's level names plus
// "warning" as an alias; unknown or empty values mean info.
func InitLogger(logPath, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		} else {
			w = f
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(parseLevel(level))

	// Route standard-library log output (http.Server error logs and the
	// like) through zerolog so every line lands in one stream.
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if level == "" {
		return zerolog.InfoLevel
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
