package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logger fields
const (
	PACKAGE   = "pkg"
	COMPONENT = "component"
	EVENT     = "event"
	USER      = "user_id"
	PEER      = "counterpart_id"
	ID        = "id"
	CODE      = "code"
	STATE     = "state"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// Configure sets the global logger level and output format.
func Configure(level string, json bool) {
	Setup(os.Stderr, level, json)
}

// Setup is Configure with an explicit writer.
func Setup(w io.Writer, level string, json bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
	}
}

// NewPackageLogger returns a logger tagged with pkg={pkg}.
func NewPackageLogger(pkg string) zerolog.Logger {
	return log.With().Str(PACKAGE, pkg).Logger()
}
