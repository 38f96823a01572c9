// Package log is a leveled, source-tagged console logger. Every line names the
// source that wrote it; the console copy is colored per level and per source, log
// files get the plain line.
package log

import (
	"fmt"
	"hash/fnv"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	logChanBufSize = 1024

	// DefaultRecentLimit is how many messages Recent keeps per source.
	DefaultRecentLimit = 5
)

// Level represents a log level type
type Level int

const (
	// DebugLevel represents DEBUG log level
	DebugLevel Level = iota

	// InfoLevel represents INFO log level
	InfoLevel

	// WarningLevel represents WARNING log level
	WarningLevel

	// ErrorLevel represents ERROR log level
	ErrorLevel

	// FatalLevel represents FATAL log level
	FatalLevel
)

// Logger writes records asynchronously to its output and any attached files.
// Use Source to obtain a handle that tags lines with a source name.
type Logger struct {
	level       Level
	out         io.Writer
	files       []io.WriteCloser
	renderer    *lipgloss.Renderer
	recentLimit int

	// ExitHandler runs after a fatal record has been written.
	ExitHandler func()

	b      strings.Builder
	recCh  chan record
	done   chan struct{}
	closed sync.Once

	mu     sync.Mutex
	recent map[string][]string
}

type record struct {
	level      Level
	source     string
	file       string
	line       int
	time       time.Time
	log        string
	continueCh chan struct{}
}

// Option configures a Logger.
type Option func(*Logger)

// WithRecentLimit sets how many non-debug messages are kept per source.
func WithRecentLimit(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.recentLimit = n
		}
	}
}

// WithExitHandler replaces the handler called after a fatal record.
func WithExitHandler(fn func()) Option {
	return func(l *Logger) {
		l.ExitHandler = fn
	}
}

// New returns a running logger writing records at or above level to out and files.
func New(level string, out io.Writer, files []io.WriteCloser, opts ...Option) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		level:       lvl,
		out:         out,
		files:       files,
		renderer:    lipgloss.NewRenderer(out),
		recentLimit: DefaultRecentLimit,
		ExitHandler: exitProcess,
		recCh:       make(chan record, logChanBufSize),
		done:        make(chan struct{}),
		recent:      map[string][]string{},
	}
	for _, opt := range opts {
		opt(l)
	}

	// Start logger main loop
	go l.mainLoop()
	return l, nil
}

// Level returns the minimum level written.
func (l *Logger) Level() Level {
	return l.level
}

// Source returns a handle tagging every line with name.
func (l *Logger) Source(name string) *Source {
	return &Source{l: l, name: name}
}

// Recent returns the last non-debug messages logged by source, oldest first.
func (l *Logger) Recent(source string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.recent[source]...)
}

// Close flushes pending records, closes attached files and stops the logger.
// Records logged after Close are dropped.
func (l *Logger) Close() error {
	l.closed.Do(func() {
		close(l.recCh)
	})
	<-l.done
	return nil
}

func (l *Logger) log(level Level, source string, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if level != DebugLevel {
		l.remember(source, msg)
	}

	file, line := callerInfo(3)
	rec := record{
		level:      level,
		source:     source,
		file:       file,
		line:       line,
		time:       time.Now(),
		log:        msg,
		continueCh: make(chan struct{}),
	}

	defer func() {
		// Sending on a closed logger drops the record.
		_ = recover()
	}()

	select {
	case l.recCh <- rec:
		if level == FatalLevel {
			<-rec.continueCh // wait until done
		}
	default:
		// avoid blocking when the buffer is full
	}
}

func (l *Logger) remember(source, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := append(l.recent[source], msg)
	if len(msgs) > l.recentLimit {
		msgs = msgs[len(msgs)-l.recentLimit:]
	}
	l.recent[source] = msgs
}

func (l *Logger) mainLoop() {
	defer close(l.done)

	for rec := range l.recCh {
		plain := l.format(rec)
		fmt.Fprint(l.out, l.colorize(rec, plain))
		for _, w := range l.files {
			fmt.Fprint(w, plain)
		}

		if rec.level == FatalLevel && l.ExitHandler != nil {
			l.ExitHandler()
		}
		close(rec.continueCh)
	}

	for _, w := range l.files {
		_ = w.Close()
	}
}

func (l *Logger) format(rec record) string {
	l.b.Reset()
	l.b.WriteString(rec.time.Format("2006-01-02 15:04:05"))
	l.b.WriteString(" ")
	l.b.WriteString(logLevelGlyph(rec.level))
	l.b.WriteString(" [")
	l.b.WriteString(logLevelAbbreviation(rec.level))
	l.b.WriteString("] [")
	l.b.WriteString(rec.source)
	l.b.WriteString("] ")
	l.b.WriteString(rec.file)
	l.b.WriteString(":")
	l.b.WriteString(strconv.Itoa(rec.line))
	l.b.WriteString(" - ")
	l.b.WriteString(rec.log)
	l.b.WriteString("\n")
	return l.b.String()
}

// colorize paints the line in the source color and the message in the level color.
func (l *Logger) colorize(rec record, line string) string {
	head, msg, ok := strings.Cut(strings.TrimSuffix(line, "\n"), " - ")
	if !ok {
		return line
	}
	src := l.renderer.NewStyle().Foreground(sourceColor(rec.source))
	lvl := l.renderer.NewStyle().Foreground(levelColor(rec.level))
	return src.Render(head+" - ") + lvl.Render(msg) + "\n"
}

var sourcePalette = []lipgloss.Color{
	"2", "11", "5", "15", "8", "9", "13", "14", "12", "10", "1", "6", "3", "7", "4",
}

func sourceColor(source string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(source))
	return sourcePalette[h.Sum32()%uint32(len(sourcePalette))]
}

func levelColor(level Level) lipgloss.Color {
	switch level {
	case DebugLevel:
		return "12"
	case WarningLevel:
		return "11"
	case ErrorLevel, FatalLevel:
		return "9"
	default:
		return "15"
	}
}

func callerInfo(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???", 0
	}
	filename := filepath.Base(file)
	return strings.TrimSuffix(filename, filepath.Ext(filename)), line
}

func logLevelAbbreviation(level Level) string {
	switch level {
	case DebugLevel:
		return "DBG"
	case InfoLevel:
		return "INF"
	case WarningLevel:
		return "WRN"
	case ErrorLevel:
		return "ERR"
	case FatalLevel:
		return "FTL"
	default:
		return ""
	}
}

func logLevelGlyph(level Level) string {
	switch level {
	case DebugLevel:
		return "\U0001f50D"
	case InfoLevel:
		return "ℹ️"
	case WarningLevel:
		return "⚠️"
	case ErrorLevel:
		return "\U0001f4a5"
	case FatalLevel:
		return "\U0001f480"
	default:
		return ""
	}
}

// ParseLevel parses a level name. The empty string means info.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarningLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}

	return Level(-1), fmt.Errorf("log: unrecognized log level: %s", level)
}
