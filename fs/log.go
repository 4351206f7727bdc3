package fs

import (
	"context"
	"fmt"
	"log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LogLevel is the severity of a log line.  The values follow syslog
// so they can be handed on to it unchanged.
type LogLevel byte

// Log levels.  mtfs logs at Error, Notice, Info and Debug only.
const (
	LogLevelEmergency LogLevel = iota
	LogLevelAlert
	LogLevelCritical
	LogLevelError // always shown
	LogLevelWarning
	LogLevelNotice // default, -q hides it
	LogLevelInfo   // -v
	LogLevelDebug  // -vv
)

var logLevelNames = []string{
	LogLevelEmergency: "EMERGENCY",
	LogLevelAlert:     "ALERT",
	LogLevelCritical:  "CRITICAL",
	LogLevelError:     "ERROR",
	LogLevelWarning:   "WARNING",
	LogLevelNotice:    "NOTICE",
	LogLevelInfo:      "INFO",
	LogLevelDebug:     "DEBUG",
}

// String turns a LogLevel into a string
func (l LogLevel) String() string {
	if int(l) >= len(logLevelNames) {
		return fmt.Sprintf("LogLevel(%d)", l)
	}
	return logLevelNames[l]
}

// Set a LogLevel from its name
func (l *LogLevel) Set(s string) error {
	for n, name := range logLevelNames {
		if s != "" && name == s {
			*l = LogLevel(n)
			return nil
		}
	}
	return errors.Errorf("unknown log level %q", s)
}

// Type of the value - used by pflag
func (l *LogLevel) Type() string {
	return "string"
}

// LogPrint writes a text log line.  Tests replace it to capture
// output.
var LogPrint = func(level LogLevel, text string) {
	_ = log.Output(5, fmt.Sprintf("%-6s: %s", level, text))
}

// LogValueItem is a keyed value which becomes a field of JSON log
// lines and prints as the value in text ones
type LogValueItem struct {
	key   string
	value interface{}
}

// LogValue wraps value as a log argument stored under key in JSON
// logs, eg
//
//	fs.Infof(o, "invalidating branch %v", fs.LogValue("branch", i))
func LogValue(key string, value interface{}) LogValueItem {
	return LogValueItem{key: key, value: value}
}

// String returns the text form of the value
func (j LogValueItem) String() string {
	if s, ok := j.value.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(j.value)
}

// LogPrintf logs text formatted with args at level, prefixed by o
// when it isn't nil
func LogPrintf(level LogLevel, o interface{}, text string, args ...interface{}) {
	out := fmt.Sprintf(text, args...)
	if !GetConfig(context.TODO()).UseJSONLog {
		if o != nil {
			out = fmt.Sprintf("%v: %s", o, out)
		}
		LogPrint(level, out)
		return
	}
	fields := logrus.Fields{}
	if o != nil {
		fields["object"] = fmt.Sprintf("%+v", o)
		fields["objectType"] = fmt.Sprintf("%T", o)
	}
	for _, arg := range args {
		if item, ok := arg.(LogValueItem); ok {
			fields[item.key] = item.value
		}
	}
	entry := logrus.WithFields(fields)
	switch level {
	case LogLevelDebug:
		entry.Debug(out)
	case LogLevelInfo:
		entry.Info(out)
	case LogLevelNotice, LogLevelWarning:
		entry.Warn(out)
	case LogLevelError:
		entry.Error(out)
	case LogLevelCritical:
		entry.Fatal(out)
	default:
		entry.Panic(out)
	}
}

func logAt(level LogLevel, o interface{}, text string, args ...interface{}) {
	if GetConfig(context.TODO()).LogLevel >= level {
		LogPrintf(level, o, text, args...)
	}
}

// Errorf logs an error about o.  Errors are always shown.
func Errorf(o interface{}, text string, args ...interface{}) {
	logAt(LogLevelError, o, text, args...)
}

// Logf logs a notice about o, such as a branch changing state.  -q
// hides these.
func Logf(o interface{}, text string, args ...interface{}) {
	logAt(LogLevelNotice, o, text, args...)
}

// Infof logs replays, healing and invalidations.  Needs -v.
func Infof(o interface{}, text string, args ...interface{}) {
	logAt(LogLevelInfo, o, text, args...)
}

// Debugf logs detail for debugging.  Needs -vv.
func Debugf(o interface{}, text string, args ...interface{}) {
	logAt(LogLevelDebug, o, text, args...)
}
