// Package log provides logging for mtfs
package log

import (
	"context"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options contains options for controlling the logging
type Options struct {
	File   string // Log everything to this file
	Format string // Comma separated list of log format options
}

// DefaultOpt is the default values used for Opt
var DefaultOpt = Options{
	Format: "date,time",
}

// Opt is the options for the logger
var Opt = DefaultOpt

// logFlags turns a comma separated format list into log flags
func logFlags(format string) int {
	flagsStr := "," + format + ","
	var flags int
	if strings.Contains(flagsStr, ",date,") {
		flags |= log.Ldate
	}
	if strings.Contains(flagsStr, ",time,") {
		flags |= log.Ltime
	}
	if strings.Contains(flagsStr, ",microseconds,") {
		flags |= log.Lmicroseconds
	}
	if strings.Contains(flagsStr, ",UTC,") {
		flags |= log.LUTC
	}
	if strings.Contains(flagsStr, ",longfile,") {
		flags |= log.Llongfile
	}
	if strings.Contains(flagsStr, ",shortfile,") {
		flags |= log.Lshortfile
	}
	return flags
}

// InitLogging start the logging as per the command line flags
func InitLogging() error {
	ci := fs.GetConfig(context.Background())
	log.SetFlags(logFlags(Opt.Format))

	var out io.Writer = os.Stderr
	if Opt.File != "" {
		f, err := os.OpenFile(Opt.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
		if err != nil {
			return errors.Wrap(err, "failed to open log file")
		}
		_, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			fs.Errorf(nil, "Failed to seek log file to end: %v", err)
		}
		log.SetOutput(f)
		redirectStderr(f)
		out = f
	}

	// fs filters by level so logrus lets everything through
	logrus.SetOutput(out)
	logrus.SetLevel(logrus.DebugLevel)
	if ci.UseJSONLog {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	}
	return nil
}

// Redirected returns true if the log has been redirected from stderr
func Redirected() bool {
	return Opt.File != ""
}
