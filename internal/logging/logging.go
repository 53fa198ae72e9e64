package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	dblogger "github.com/lni/dragonboat/v4/logger"
)

// Level mirrors dragonboat's logger.LogLevel so the same value configures
// both our own components and, when a table uses the Raft chunk variant,
// dragonboat's internal loggers.
type Level = dblogger.LogLevel

const (
	Debug   = dblogger.DEBUG
	Info    = dblogger.INFO
	Warning = dblogger.WARNING
	Error   = dblogger.ERROR
	Off     = dblogger.CRITICAL
)

// ParseLevel converts a string ("debug", "info", "warn"/"warning", "error")
// to a Level, defaulting to Info on an unrecognized value.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warning", "warn":
		return Warning
	case "error":
		return Error
	case "off", "silent":
		return Off
	default:
		return Info
	}
}

// Logger is the interface used throughout the module. It is a structural
// subset of dragonboat/v4/logger.ILogger so a Logger can be installed as
// dragonboat's logger factory output without an adapter.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type namedLogger struct {
	name   string
	level  Level
	logger *log.Logger
}

func (l *namedLogger) SetLevel(level Level) { l.level = level }

func (l *namedLogger) Debugf(format string, args ...interface{}) {
	if l.level >= Debug {
		l.log("DEBUG", format, args...)
	}
}

func (l *namedLogger) Infof(format string, args ...interface{}) {
	if l.level >= Info {
		l.log("INFO", format, args...)
	}
}

func (l *namedLogger) Warningf(format string, args ...interface{}) {
	if l.level >= Warning {
		l.log("WARN", format, args...)
	}
}

func (l *namedLogger) Errorf(format string, args ...interface{}) {
	if l.level >= Error {
		l.log("ERROR", format, args...)
	}
}

func (l *namedLogger) Panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

func (l *namedLogger) log(levelStr, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-18s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

var (
	mu      sync.Mutex
	level   = Info
	loggers = map[string]*namedLogger{}
)

// New returns (creating if needed) the named logger, honoring the
// process-wide level set by SetLevel.
func New(name string) Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[name]; ok {
		return l
	}
	l := &namedLogger{
		name:   name,
		level:  level,
		logger: log.New(os.Stdout, "", log.Ldate|log.Ltime),
	}
	loggers[name] = l
	return l
}

// SetLevel sets the process-wide log level for every logger created via New
// (existing and future), and for dragonboat's own loggers so a Raft-backed
// chunk logs at the same verbosity as the rest of the module.
func SetLevel(lvl Level) {
	mu.Lock()
	level = lvl
	for _, l := range loggers {
		l.SetLevel(lvl)
	}
	mu.Unlock()

	dblogger.SetLoggerFactory(func(name string) dblogger.ILogger {
		l := New(name).(*namedLogger)
		l.SetLevel(lvl)
		return l
	})
	for _, name := range []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "logdb"} {
		dblogger.GetLogger(name).SetLevel(lvl)
	}
}
