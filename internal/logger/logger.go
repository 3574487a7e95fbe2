// Package logger provides leveled printf-style logging for the service.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

type leveledLogger struct {
	level  Level
	logger *log.Logger
}

var std *leveledLogger

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	std = newLogger(os.Stderr, level, format)
}

func newLogger(w io.Writer, level, format string) *leveledLogger {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	return &leveledLogger{
		level:  parseLevel(level),
		logger: log.New(w, "", flags),
	}
}

func parseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func output(min Level, tag, format string, args []interface{}) {
	if std == nil || std.level > min {
		return
	}
	_ = std.logger.Output(3, fmt.Sprintf(tag+format, args...))
}

func Debug(format string, args ...interface{}) {
	output(DebugLevel, "[DEBUG] ", format, args)
}

func Info(format string, args ...interface{}) {
	output(InfoLevel, "[INFO] ", format, args)
}

func Warn(format string, args ...interface{}) {
	output(WarnLevel, "[WARN] ", format, args)
}

func Error(format string, args ...interface{}) {
	output(ErrorLevel, "[ERROR] ", format, args)
}

func Fatal(format string, args ...interface{}) {
	if std != nil {
		_ = std.logger.Output(3, fmt.Sprintf("[FATAL] "+format, args...))
	}
	os.Exit(1)
}
