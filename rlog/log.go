package rlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a log severity.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCrit
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "CRIT"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "?????"
}

var levelColor = [...]*color.Color{
	LevelTrace: color.New(color.FgHiBlack),
	LevelDebug: color.New(color.FgBlue),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed),
	LevelCrit:  color.New(color.FgHiRed, color.Bold),
}

// Logger emits leveled key-value records to an output writer, optionally
// colorized when the writer is a terminal.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	color   bool
	minimum Level
	prefix  string
}

// root is the process-wide default logger, mirroring go-ethereum's global
// log15 root logger.
var root = New(os.Stderr)

// New creates a Logger writing to w, auto-detecting TTY color support.
func New(w io.Writer) *Logger {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	out := w
	if useColor {
		if f, ok := w.(*os.File); ok {
			out = colorable.NewColorable(f)
		}
	}
	return &Logger{out: out, color: useColor, minimum: LevelInfo}
}

// Root returns the process-wide default logger.
func Root() *Logger { return root }

// SetLevel sets the minimum level that will be emitted.
func (l *Logger) SetLevel(lvl Level) { l.minimum = lvl }

// With returns a child logger whose records are tagged with the given
// component prefix (e.g. "gc", "jit", "scheduler").
func (l *Logger) With(component string) *Logger {
	return &Logger{out: l.out, color: l.color, minimum: l.minimum, prefix: component}
}

func (l *Logger) log(lvl Level, msg string, kv ...interface{}) {
	if lvl < l.minimum {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05.000")
	tag := lvl.String()
	if l.color {
		tag = levelColor[lvl].Sprint(tag)
	}
	line := fmt.Sprintf("[%s] %-5s", ts, tag)
	if l.prefix != "" {
		line += " " + l.prefix + ":"
	}
	line += " " + msg
	for i := 0; i+1 < len(kv); i += 2 {
		line += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	if lvl >= LevelError {
		// Capture the immediate caller frame for diagnosability; skip this
		// function and the exported level method that called it.
		c := stack.Caller(2)
		line += fmt.Sprintf(" at=%+v", c)
	}
	fmt.Fprintln(l.out, line)
}

func (l *Logger) Trace(msg string, kv ...interface{}) { l.log(LevelTrace, msg, kv...) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(LevelDebug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(LevelInfo, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(LevelWarn, msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(LevelError, msg, kv...) }
func (l *Logger) Crit(msg string, kv ...interface{})  { l.log(LevelCrit, msg, kv...) }
