package cli

import (
	"io"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
)

const (
	loggerKey    = "logger"
	logCloserKey = "log-closer"
)

// setupLogging builds the logger shared by all commands. Logs go to the error writer so they
// stay out of command output; --log-file adds a rotating file that keeps info logs as well.
func setupLogging(c *cli.Context) error {
	logger := logging.NewWriterLogger("questgear", logging.WARN, c.App.ErrWriter)
	switch {
	case c.Bool(flagDebug):
		logger.SetLevel(logging.DEBUG)
	case c.String(flagLogLevel) != "":
		level, err := logging.LevelFromString(c.String(flagLogLevel))
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	case c.Path(flagLogFile) != "":
		logger.SetLevel(logging.INFO)
	}

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	if path := c.Path(flagLogFile); path != "" {
		appender, closer := logging.NewFileAppender(logging.FileAppenderConfig{
			Path:       path,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		})
		logger.AddAppender(appender)
		c.App.Metadata[logCloserKey] = closer
	}
	c.App.Metadata[loggerKey] = logger
	logging.ReplaceGlobal(logger)
	return nil
}

func closeLogging(c *cli.Context) error {
	var err error
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		err = logger.Sync()
		delete(c.App.Metadata, loggerKey)
	}
	if closer, ok := c.App.Metadata[logCloserKey].(io.Closer); ok {
		err = multierr.Combine(err, closer.Close())
		delete(c.App.Metadata, logCloserKey)
	}
	return err
}

func loggerFromContext(c *cli.Context) logging.Logger {
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		return logger
	}
	return logging.Global()
}

// loadConfig reads --config, or the defaults without one, and applies overrides on top. Keys of
// overrides are config JSON names.
func loadConfig(c *cli.Context, overrides map[string]interface{}) (*config.Config, error) {
	cfg := config.Default()
	if path := c.Path(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, err
		}
	}
	if len(overrides) == 0 {
		return cfg, cfg.Validate("")
	}
	return cfg.Merge(overrides)
}
