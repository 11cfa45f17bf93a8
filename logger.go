// Package armstatic provides the ambient logging stack shared by
// binary and cmd/armstatic: a severity-leveled Logger interface with a
// stdlib-backed implementation and a no-op implementation for quiet
// library use. Carried over from the teacher's common/logger.go
// unchanged in shape — only the package and doc comment name the new
// domain.
package armstatic

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Severity represents log message severity levels.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the logging contract used throughout the analysis: binary
// discovery, function disassembly, and the CLI driver all log through
// this interface rather than calling log/fmt directly.
type Logger interface {
	Log(severity Severity, msg string)
	Logf(severity Severity, format string, args ...interface{})
	Error(err error)
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
}

// StdLogger implements Logger using Go's standard logger, splitting
// debug/info/warning to stdout and errors to stderr.
type StdLogger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	minLevel   Severity
}

// NewStdLogger creates a StdLogger writing to os.Stdout/os.Stderr.
func NewStdLogger(minLevel Severity) *StdLogger {
	return NewStdLoggerWithWriter(os.Stdout, os.Stderr, minLevel)
}

// NewStdLoggerWithWriter creates a StdLogger with custom writers, for
// tests and embedders that want to capture log output.
func NewStdLoggerWithWriter(stdout, stderr io.Writer, minLevel Severity) *StdLogger {
	return &StdLogger{
		debugLog:   log.New(stdout, "DEBUG: ", log.Ltime|log.Lshortfile),
		infoLog:    log.New(stdout, "INFO: ", log.Ltime),
		warningLog: log.New(stdout, "WARNING: ", log.Ltime),
		errorLog:   log.New(stderr, "ERROR: ", log.Ltime|log.Lshortfile),
		minLevel:   minLevel,
	}
}

// Log logs a message with the given severity, dropped if below minLevel.
func (l *StdLogger) Log(severity Severity, msg string) {
	if severity < l.minLevel {
		return
	}

	switch severity {
	case SeverityDebug:
		l.debugLog.Output(2, msg)
	case SeverityInfo:
		l.infoLog.Output(2, msg)
	case SeverityWarning:
		l.warningLog.Output(2, msg)
	case SeverityError:
		l.errorLog.Output(2, msg)
	}
}

// Logf logs a formatted message with the given severity.
func (l *StdLogger) Logf(severity Severity, format string, args ...interface{}) {
	l.Log(severity, fmt.Sprintf(format, args...))
}

// Error logs a non-nil error at SeverityError.
func (l *StdLogger) Error(err error) {
	if err != nil {
		l.Log(SeverityError, err.Error())
	}
}

// Debug logs msg at SeverityDebug.
func (l *StdLogger) Debug(msg string) { l.Log(SeverityDebug, msg) }

// Info logs msg at SeverityInfo.
func (l *StdLogger) Info(msg string) { l.Log(SeverityInfo, msg) }

// Warning logs msg at SeverityWarning.
func (l *StdLogger) Warning(msg string) { l.Log(SeverityWarning, msg) }

// NoOpLogger implements Logger by discarding everything, for library
// callers that want analysis with no log output.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (l *NoOpLogger) Log(severity Severity, msg string)                       {}
func (l *NoOpLogger) Logf(severity Severity, format string, args ...interface{}) {}
func (l *NoOpLogger) Error(err error)                                         {}
func (l *NoOpLogger) Debug(msg string)                                        {}
func (l *NoOpLogger) Info(msg string)                                         {}
func (l *NoOpLogger) Warning(msg string)                                      {}
