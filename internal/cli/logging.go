package cli

import (
	"os"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// SetupLogging creates and configures a logger with the specified level.
// Returns the configured logger for dependency injection.
func SetupLogging(level string) logger.ILogger {
	log := logger.NewConsoleLogger(os.Stderr)

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		log.SetLevel(logger.LevelTrace)
	case "debug":
		log.SetLevel(logger.LevelDebug)
	case "warn", "warning":
		log.SetLevel(logger.LevelWarning)
	case "error":
		log.SetLevel(logger.LevelError)
	default:
		log.SetLevel(logger.LevelInfo)
	}

	logger.SetDefaultLogger(log)
	logger.SetCtxFallbackLogger(log)

	return log
}

// resolveLogLevel picks the --log-level flag when given, then the config
// file's level, then the flag default.
func resolveLogLevel(flagLevel string, flagChanged bool, cfgLevel string) string {
	if !flagChanged && cfgLevel != "" {
		return cfgLevel
	}
	return flagLevel
}
