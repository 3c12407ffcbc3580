// Package logflags holds the per-layer loggers of the debugger. Every layer
// logs through its own logrus entry tagged with a "layer" field, and is
// silenced unless enabled through --log-output.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	session    = false
	breakpoint = false
	symbol     = false
	native     = false
	engine     = false

	logOut    io.Writer
	logCloser io.Closer
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Session returns true if the session state machine should log.
func Session() bool {
	return session
}

// SessionLogger returns a logger for the debug session layer.
func SessionLogger() *logrus.Entry {
	return makeLogger(session, logrus.Fields{"layer": "session"})
}

// Breakpoint returns true if breakpoint patching should be logged.
func Breakpoint() bool {
	return breakpoint
}

// BreakpointLogger returns a logger for the breakpoint manager.
func BreakpointLogger() *logrus.Entry {
	return makeLogger(breakpoint, logrus.Fields{"layer": "breakpoint"})
}

// Symbol returns true if the symbol resolver should log.
func Symbol() bool {
	return symbol
}

// SymbolLogger returns a logger for the symbol resolver.
func SymbolLogger() *logrus.Entry {
	return makeLogger(symbol, logrus.Fields{"layer": "symbol"})
}

// Native returns true if every debug event received from the OS should be
// logged.
func Native() bool {
	return native
}

// NativeLogger returns a logger for the native debug event facility.
func NativeLogger() *logrus.Entry {
	return makeLogger(native, logrus.Fields{"layer": "native"})
}

// Engine returns true if the engine goroutine should log handed over
// operations.
func Engine() bool {
	return engine
}

// EngineLogger returns a logger for the engine goroutine.
func EngineLogger() *logrus.Entry {
	return makeLogger(engine, logrus.Fields{"layer": "engine"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr. When dest is
// not empty, logs are appended to that file instead of stderr.
func Setup(logFlag bool, logstr string, dest string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}

	if dest != "" {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log dest error: %v", err)
		}
		logOut, logCloser = f, f
		log.SetOutput(f)
	}

	if logstr == "" {
		logstr = "session"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "session":
			session = true
		case "breakpoint":
			breakpoint = true
		case "symbol":
			symbol = true
		case "native":
			native = true
		case "engine":
			engine = true
		case "all":
			session, breakpoint, symbol, native, engine = true, true, true, true, true
		}
	}
	return nil
}

// Close releases the log destination opened by Setup, if any.
func Close() error {
	if logCloser == nil {
		return nil
	}
	err := logCloser.Close()
	logOut, logCloser = nil, nil
	return err
}
