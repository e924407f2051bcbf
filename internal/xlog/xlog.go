// Package xlog provides the structured, leveled logger used throughout the
// consensus engine. It follows the key/value logging idiom of go-ethereum's
// log package: a Logger carries a fixed context of key/value pairs and each
// call site adds its own, rather than formatting a message string.
package xlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
)

// Level is a logging severity.
type Level int

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Level) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// Logger emits leveled, structured records with a fixed key/value context.
type Logger interface {
	New(ctx ...interface{}) Logger
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type record struct {
	time  time.Time
	lvl   Level
	msg   string
	ctx   []interface{}
	call  stack.Call
}

// Handler writes a finished record somewhere.
type Handler interface {
	Log(r record) error
}

type logger struct {
	ctx []interface{}
	h   *swapHandler
}

type swapHandler struct {
	mu sync.RWMutex
	h  Handler
}

func (s *swapHandler) Log(r record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h.Log(r)
}

func (s *swapHandler) Swap(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = h
}

var root = &logger{h: new(swapHandler)}

func init() {
	root.h.Swap(NewTerminalHandler(os.Stderr, LvlInfo))
}

// Root returns the root logger of the process.
func Root() Logger { return root }

// SetRoot replaces the root handler, e.g. to install the discard handler
// or a terminal handler with a different verbosity.
func SetRoot(h Handler) { root.h.Swap(h) }

// New creates a child of the root logger carrying additional context.
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{h: l.h}
	child.ctx = append(append([]interface{}{}, l.ctx...), ctx...)
	return child
}

func (l *logger) write(lvl Level, msg string, ctx []interface{}) {
	r := record{
		time: time.Now(),
		lvl:  lvl,
		msg:  msg,
		ctx:  append(append([]interface{}{}, l.ctx...), ctx...),
		call: stack.Caller(2),
	}
	_ = l.h.Log(r)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }

// terminalHandler renders colorized, human-readable lines, in the idiom of
// go-ethereum's terminal log handler.
type terminalHandler struct {
	mu     sync.Mutex
	out    io.Writer
	maxLvl Level
	color  bool
}

// NewTerminalHandler returns a Handler writing colorized lines to w, suited
// for interactive use (cmd/consensusd, tests run with -v).
func NewTerminalHandler(w io.Writer, maxLvl Level) Handler {
	out := w
	if f, ok := w.(*os.File); ok {
		out = colorable.NewColorable(f)
	}
	return &terminalHandler{out: out, maxLvl: maxLvl, color: true}
}

var levelColor = map[Level]string{
	LvlCrit:  "\x1b[35m",
	LvlError: "\x1b[31m",
	LvlWarn:  "\x1b[33m",
	LvlInfo:  "\x1b[32m",
	LvlDebug: "\x1b[36m",
	LvlTrace: "\x1b[90m",
}

func (t *terminalHandler) Log(r record) error {
	if r.lvl > t.maxLvl {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	color := ""
	reset := ""
	if t.color {
		color = levelColor[r.lvl]
		reset = "\x1b[0m"
	}
	fmt.Fprintf(t.out, "%s%-5s%s[%s] %-40s", color, r.lvl, reset, r.time.Format("15:04:05.000"), r.msg)
	for i := 0; i+1 < len(r.ctx); i += 2 {
		fmt.Fprintf(t.out, " %v=%v", r.ctx[i], r.ctx[i+1])
	}
	if len(r.ctx)%2 == 1 {
		fmt.Fprintf(t.out, " %v=MISSING", r.ctx[len(r.ctx)-1])
	}
	fmt.Fprintf(t.out, " caller=%v\n", r.call)
	return nil
}

// discardHandler drops every record; used by tests that want quiet output.
type discardHandler struct{}

func (discardHandler) Log(record) error { return nil }

// NewDiscardHandler returns a Handler that drops all records.
func NewDiscardHandler() Handler { return discardHandler{} }
