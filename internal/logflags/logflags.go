// Package logflags routes diagnostic logging behind the --log and
// --log-output flags. Loggers are silent unless their component is enabled.
package logflags

import (
	"errors"
	"io"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	group = false
	cli   = false
	batch = false
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Group returns true if child lifecycle transitions should be logged.
func Group() bool {
	return group
}

// GroupLogger returns a logger for child lifecycle transitions.
func GroupLogger() *logrus.Entry {
	return makeLogger(group, logrus.Fields{"layer": "group"})
}

// CLI returns true if command dispatch should be logged.
func CLI() bool {
	return cli
}

// CLILogger returns a logger for command dispatch.
func CLILogger() *logrus.Entry {
	return makeLogger(cli, logrus.Fields{"layer": "cli"})
}

// Batch returns true if taskfile execution should be logged.
func Batch() bool {
	return batch
}

// BatchLogger returns a logger for taskfile execution.
func BatchLogger() *logrus.Entry {
	return makeLogger(batch, logrus.Fields{"layer": "batch"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup enables components based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "group"
	}
	for _, component := range strings.Split(logstr, ",") {
		switch component {
		case "group":
			group = true
		case "cli":
			cli = true
		case "batch":
			batch = true
		default:
			return errors.New("invalid log component: " + component)
		}
	}
	return nil
}
