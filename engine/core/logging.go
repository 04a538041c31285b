package core

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	loggerOnce sync.Once
	std        *log.Logger
)

// logger returns the process logger, writing to stderr at debug level until
// SetLogLevel changes it.
func logger() *log.Logger {
	loggerOnce.Do(func() {
		std = log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          "Lumen ",
			CallerOffset:    1,
			Level:           log.DebugLevel,
		})
	})
	return std
}

// SetLogLevel accepts debug, info, warn, error or fatal.
func SetLogLevel(level string) error {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return ConfigurationErrorf("unknown log level %q", level)
	}
	logger().SetLevel(lvl)
	return nil
}

func LogDebug(msg string, args ...interface{}) {
	logger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	logger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	logger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	logger().Errorf(msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	logger().Fatalf(msg, args...)
}
