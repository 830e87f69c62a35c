package bootstrap

import (
	"os"
	"time"

	"agrifin-backend/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger configures the global zerolog logger: JSON in production, console output otherwise.
func Logger(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}
