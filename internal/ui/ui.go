// Package ui renders build lifecycle events to the terminal: leveled,
// colorized logging plus the task start/outcome lines and plain lines that
// the CLI's -s/--show-tasks and -g/--show-task-graph views are printed
// through.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
)

// IsTTY reports whether stdout is attached to a terminal.
var IsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

var (
	successPrefix = color.New(color.Bold, color.FgGreen, color.ReverseVideo).Sprint(" OK ")
	failurePrefix = color.New(color.Bold, color.FgRed, color.ReverseVideo).Sprint(" FAIL ")
)

// UI wraps a leveled hclog.Logger plus ANSI styling that respects
// --no-color/--no-colorful-log.
type UI struct {
	Out      io.Writer
	log      hclog.Logger
	colorful bool
}

// Options configures New.
type Options struct {
	Level         string // fine, debug, info, warn, error
	NoColor       bool
	NoColorfulLog bool
}

// levelFor maps the engine's five log levels onto hclog's levels. "fine",
// the most verbose, is mapped to Trace, the most verbose level hclog
// offers; an unrecognized name falls back to Info.
func levelFor(name string) hclog.Level {
	switch name {
	case "fine":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "warn":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}

// New builds a UI for the given options.
func New(opts Options) *UI {
	if opts.NoColor {
		color.NoColor = true
	}
	logColor := hclog.AutoColor
	if opts.NoColor || opts.NoColorfulLog {
		logColor = hclog.ColorOff
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:        "dartle",
		Level:       levelFor(opts.Level),
		Output:      os.Stderr,
		Color:       logColor,
		DisableTime: true,
	})
	return &UI{
		Out:      os.Stdout,
		log:      logger,
		colorful: !opts.NoColor && !opts.NoColorfulLog && IsTTY,
	}
}

// Fine logs at the most verbose level.
func (u *UI) Fine(format string, args ...interface{}) { u.log.Trace(fmt.Sprintf(format, args...)) }

// Debug logs a debug-level message.
func (u *UI) Debug(format string, args ...interface{}) { u.log.Debug(fmt.Sprintf(format, args...)) }

// Info logs an info-level message.
func (u *UI) Info(format string, args ...interface{}) { u.log.Info(fmt.Sprintf(format, args...)) }

// Warn logs a warning.
func (u *UI) Warn(format string, args ...interface{}) { u.log.Warn(fmt.Sprintf(format, args...)) }

// Error logs an error.
func (u *UI) Error(format string, args ...interface{}) { u.log.Error(fmt.Sprintf(format, args...)) }

// Actor returns a logger whose messages are prefixed with the given actor
// id, for per-worker log correlation during parallel execution.
func (u *UI) Actor(id string) hclog.Logger { return u.log.Named(id) }

func (u *UI) style(s string, attrs ...color.Attribute) string {
	if !u.colorful {
		return s
	}
	return color.New(attrs...).Sprint(s)
}

// TaskStart prints a task's starting line.
func (u *UI) TaskStart(actor, name string) {
	fmt.Fprintf(u.Out, "%s %s\n", u.style("▶", color.FgCyan), fmt.Sprintf("%s: %s", actor, name))
}

// TaskDone prints a task's outcome line.
func (u *UI) TaskDone(actor, name string, succeeded bool) {
	prefix := successPrefix
	if !succeeded {
		prefix = failurePrefix
	}
	if !u.colorful {
		prefix = strings.TrimSpace(prefix)
	}
	fmt.Fprintf(u.Out, "%s %s: %s\n", prefix, actor, name)
}

// Println writes a plain line to stdout.
func (u *UI) Println(s string) { fmt.Fprintln(u.Out, s) }
