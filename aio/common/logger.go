package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

// Loggers lists the names of all package loggers of dSock
var Loggers = []string{"transport", "group", "session", "server", "client"}

// TimeFormat is the timestamp layout of every log line
const TimeFormat = "2006-01-02 15:04:05.000000"

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stdout
)

// SetLogOutput redirects all dSock loggers, it returns the previous writer
func SetLogOutput(w io.Writer) io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	prev := output
	output = w
	return prev
}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dSockLogger writes lines of the form
//
//	2006-01-02 15:04:05.000000 WARN  session   | message
//
// the package column is padded to the longest name in Loggers
type dSockLogger struct {
	name  string
	level logger.LogLevel
}

func (l *dSockLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dSockLogger) Debugf(format string, args ...interface{}) {
	l.logf(logger.DEBUG, format, args...)
}

func (l *dSockLogger) Infof(format string, args ...interface{}) {
	l.logf(logger.INFO, format, args...)
}

func (l *dSockLogger) Warningf(format string, args ...interface{}) {
	l.logf(logger.WARNING, format, args...)
}

func (l *dSockLogger) Errorf(format string, args ...interface{}) {
	l.logf(logger.ERROR, format, args...)
}

func (l *dSockLogger) Panicf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.write(logger.CRITICAL, message)
	panic(message)
}

func (l *dSockLogger) logf(level logger.LogLevel, format string, args ...interface{}) {
	if l.level < level {
		return
	}
	l.write(level, fmt.Sprintf(format, args...))
}

func (l *dSockLogger) write(level logger.LogLevel, message string) {
	line := fmt.Sprintf("%s %-5s %-*s | %s\n",
		time.Now().Format(TimeFormat), levelName(level), nameWidth, l.name, message)

	outputMu.Lock()
	defer outputMu.Unlock()
	_, _ = io.WriteString(output, line)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// nameWidth is the width of the package column
var nameWidth = func() int {
	width := 0
	for _, name := range Loggers {
		width = max(width, len(name))
	}
	return width
}()

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	return &dSockLogger{
		name:  pkgName,
		level: logger.INFO,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func levelName(level logger.LogLevel) string {
	switch level {
	case logger.DEBUG:
		return "DEBUG"
	case logger.INFO:
		return "INFO"
	case logger.WARNING:
		return "WARN"
	case logger.ERROR:
		return "ERROR"
	default:
		return "PANIC"
	}
}

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the custom logger factory and sets the level of all dSock loggers.
// It panics on an invalid level, the cli validates the level before.
func InitLoggers(level string) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		panic(err)
	}

	logger.SetLoggerFactory(CreateLogger)

	for _, name := range Loggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
}
