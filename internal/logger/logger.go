package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns the process logger. Development gets a console writer at debug level, everything
// else structured JSON at info level.
func New(appEnv string) zerolog.Logger {
	if isDev(appEnv) {
		cw := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stdout
			w.TimeFormat = "2006-01-02 15:04:05"
		})
		return zerolog.New(cw).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// Component derives a child logger tagged with the emitting component.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Nop returns a disabled logger, useful for tests.
func Nop() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func isDev(appEnv string) bool {
	env := strings.ToLower(strings.TrimSpace(appEnv))
	return env == "development" || env == "dev" || env == "local"
}
