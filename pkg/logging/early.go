package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog writes plain lines before the structured logger is configured.
type EarlyLog struct {
	service string
	out     io.Writer
	errOut  io.Writer
	exit    func(int)
}

func NewEarlyLog(service string) *EarlyLog {
	return &EarlyLog{
		service: service,
		out:     os.Stdout,
		errOut:  os.Stderr,
		exit:    os.Exit,
	}
}

func (l *EarlyLog) line(w io.Writer, level, msg string, args ...interface{}) {
	fmt.Fprintf(w, "%s [%s] %s\n", level, l.service, fmt.Sprintf(msg, args...))
}

// Error reports a startup failure and exits the process.
func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.line(l.errOut, "ERROR", msg, args...)
	l.exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.line(l.errOut, "WARN", msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.line(l.out, "INFO", msg, args...)
}
