// Package applog is the logger every rankcache package writes through. A
// console logger is installed until SetLogger or Init replaces it.
package applog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	DebugLevel = iota
	InfoLevel
	ErrorLevel
)

var levelNames = [...]string{DebugLevel: "DEBUG", InfoLevel: "INFO", ErrorLevel: "ERROR"}

var (
	// LogLevel lowest level the console logger writes
	LogLevel = InfoLevel

	Logger CacheLogger = NewConsoleLogger(os.Stdout)
)

type (
	CacheLogger interface {
		Debugf(format string, v ...interface{})
		Infof(format string, v ...interface{})
		Errorf(format string, v ...interface{})
	}

	// DefaultLogger writes one "LEVEL message" line per call
	DefaultLogger struct {
		mu  sync.Mutex
		out io.Writer
	}
)

func NewConsoleLogger(out io.Writer) *DefaultLogger {
	return &DefaultLogger{out: out}
}

// SetLogger install l, nil puts back a console logger on stdout
func SetLogger(l CacheLogger) {
	if l == nil {
		l = NewConsoleLogger(os.Stdout)
	}
	Logger = l
}

func LogDebugIf(condition bool, format string, v ...interface{}) {
	if condition {
		Logger.Debugf(format, v...)
	}
}

func LogInfoIf(condition bool, format string, v ...interface{}) {
	if condition {
		Logger.Infof(format, v...)
	}
}

func LogErrIf(condition bool, format string, v ...interface{}) {
	if condition {
		Logger.Errorf(format, v...)
	}
}

// LogIfErr log the message with err appended, nothing when err is nil
func LogIfErr(err error, format string, v ...interface{}) {
	if err == nil {
		return
	}
	Logger.Errorf("%s, err:%v", fmt.Sprintf(format, v...), err)
}

func LogErr(format string, v ...interface{}) {
	Logger.Errorf(format, v...)
}

func LogInfo(format string, v ...interface{}) {
	Logger.Infof(format, v...)
}

func LogDebug(format string, v ...interface{}) {
	Logger.Debugf(format, v...)
}

func (l *DefaultLogger) logf(level int, format string, v ...interface{}) {
	if level < LogLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.out, "%s %s\n", levelNames[level], fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	l.logf(DebugLevel, format, v...)
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.logf(InfoLevel, format, v...)
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.logf(ErrorLevel, format, v...)
}
