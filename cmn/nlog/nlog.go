// Package nlog is the leveled logger shared by every PVA client subsystem:
// transports, the search manager, the channel state machine and operations
// all log through here rather than fmt/log directly, so that one SetOutput
// call redirects the output of the whole client.
package nlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

func (s severity) tag() byte { return "IWE"[s] }

type logger struct {
	mu   sync.Mutex
	file *os.File
	sev  severity
}

var (
	loggers      [3]*logger
	toStderr     = true
	alsoToStderr bool
	logDir       string
)

func init() {
	for i := range loggers {
		loggers[i] = &logger{sev: severity(i)}
	}
}

// SetOutput redirects Info/Warn/Err logs to per-severity files under dir
// instead of stderr. Warnings and errors are always written to stderr as
// well; alsoStderr additionally echoes info lines there.
func SetOutput(dir string, alsoStderr bool) error {
	if dir == "" {
		toStderr, alsoToStderr = true, alsoStderr
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	logDir = dir
	toStderr, alsoToStderr = false, alsoStderr
	for _, l := range loggers {
		name := filepath.Join(dir, "pvaclient."+string(l.sev.tag())+".log")
		f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.file = f
		l.mu.Unlock()
	}
	return nil
}

func Flush(...bool) {
	for _, l := range loggers {
		l.mu.Lock()
		if l.file != nil {
			l.file.Sync()
		}
		l.mu.Unlock()
	}
}

func logLine(sev severity, depth int, format string, args ...any) {
	msg := sprintf(format, args...)
	line := fmt.Sprintf("%c%s %s\n", sev.tag(), time.Now().Format("0102 15:04:05.000000"), msg)

	if toStderr || alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	if toStderr {
		return
	}
	l := loggers[sev]
	l.mu.Lock()
	if l.file != nil {
		l.file.WriteString(line)
	}
	l.mu.Unlock()
	if sev >= sevWarn {
		// warnings and errors are duplicated into the info stream too
		info := loggers[sevInfo]
		info.mu.Lock()
		if info.file != nil {
			info.file.WriteString(line)
		}
		info.mu.Unlock()
	}
}

func sprintf(format string, args ...any) string {
	if format == "" {
		return fmt.Sprintln(args...)
	}
	return fmt.Sprintf(format, args...)
}

func InfoDepth(depth int, args ...any)    { logLine(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { logLine(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { logLine(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { logLine(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { logLine(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { logLine(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { logLine(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { logLine(sevErr, 0, format, args...) }
