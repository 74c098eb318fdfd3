package log

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config is the logger section of the application config.
type Config struct {
	Level  string `yaml:"level" env:"LOGGER_LEVEL" env-default:"info"`
	Pretty bool   `yaml:"pretty" env:"LOGGER_PRETTY" env-default:"false"`
}

// New constructs the root zerolog logger. Services derive channel-scoped
// children from it via logger.With().Str("channel", ...).
func New(cfg Config) (*zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(w)
	} else {
		logger = zerolog.New(os.Stderr)
	}

	logger = logger.Level(level).With().Timestamp().Logger()

	return &logger, nil
}
