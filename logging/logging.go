package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// logging levels
const (
	DEBUG = "DEBUG"
	INFO  = "INFO"
	WARN  = "WARN"
	ERROR = "ERROR"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stdout, INFO)
)

func newLogger(w io.Writer, level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "monpubsub",
		Level:  hclog.LevelFromString(level),
		Output: w,
	})
}

// SetLogLevel sets the log level for filtering logs. Unknown levels fall back to INFO.
func SetLogLevel(logLevel string) {
	level := hclog.LevelFromString(logLevel)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	mu.Lock()
	defer mu.Unlock()
	logger.SetLevel(level)
}

// SetOutput redirects all log output to w, keeping the current level.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	level := logger.GetLevel()
	logger = hclog.New(&hclog.LoggerOptions{Name: "monpubsub", Level: level, Output: w})
}

// Logger returns the underlying hclog logger, for libraries that take one.
func Logger() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// StandardLogger adapts the logger to a *log.Logger at INFO level.
func StandardLogger() *log.Logger {
	return Logger().StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
}

// Log writes a log message at a specified level, formatted with optional arguments
func Log(level, message string, a ...any) {
	l := Logger()
	msg := fmt.Sprintf(message, a...)
	switch level {
	case DEBUG:
		l.Debug(msg)
	case WARN:
		l.Warn(msg)
	case ERROR:
		l.Error(msg)
	default:
		l.Info(msg)
	}
}

// Debug logs a message at DEBUG level
func Debug(message string, a ...any) {
	Log(DEBUG, message, a...)
}

// Info logs a message at INFO level
func Info(message string, a ...any) {
	Log(INFO, message, a...)
}

// Warn logs a message at WARN level
func Warn(message string, a ...any) {
	Log(WARN, message, a...)
}

// Error logs a message at ERROR level
func Error(message string, a ...any) {
	Log(ERROR, message, a...)
}

// Panic panics with the formatted message
func Panic(message string, a ...any) {
	panic(fmt.Sprintf(message, a...))
}
