package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Service is stamped on every log line.
const Service = "exstem-grader"

// Setup builds the process logger and installs it as the fallback for
// zerolog.Ctx, so code handed a context without a request logger still logs.
//   - level: trace, debug, info, warn, error, fatal or panic; anything else means info
//   - format: "pretty" renders console output when stdout is a terminal;
//     otherwise lines are JSON
func Setup(level, format string) zerolog.Logger {
	return setup(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())), level, format)
}

func setup(out io.Writer, tty bool, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "pretty" && tty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	log := zerolog.New(out).
		With().
		Timestamp().
		Str("service", Service).
		Caller().
		Logger()
	zerolog.DefaultContextLogger = &log
	return log
}
