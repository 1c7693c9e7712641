package application

import (
	"fmt"
	"os"
	"strings"

	zlog "github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
)

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	if err := a.initModuleLoggersFromConfig(); err != nil {
		return err
	}
	return nil
}

// initGlobalLoggerFromEnv configures the process-wide logger based on MATCHMAKING_LOG_* env vars.
//
//   - MATCHMAKING_LOG_ENABLE: "1"/"true" to enable outputs; others treated as disabled.
//   - MATCHMAKING_LOG_LEVEL: log level (default "info").
//   - MATCHMAKING_LOG_STDOUT: whether to log to stdout (default false).
//   - MATCHMAKING_LOG_FILE_DIR: log directory.
//   - MATCHMAKING_LOG_FILE: log file name (empty means no file).
//   - MATCHMAKING_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("MATCHMAKING_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:  getenvDefault("MATCHMAKING_LOG_LEVEL", "info"),
		Format: getenvDefault("MATCHMAKING_LOG_FORMAT", "text"),
		Stdout: getenvBool("MATCHMAKING_LOG_STDOUT", false),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("MATCHMAKING_LOG_FILE_DIR", ""),
			Filename: getenvDefault("MATCHMAKING_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init global logger from env: %w", err)
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from YAML config under "logging" key.
//
// Example:
//
//	logging:
//	  matchmaking:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: matchmaking.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger.With(zlog.FieldModule(name))}
	}

	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
