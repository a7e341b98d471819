package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPattern    = "%time [%level] %msg %field"
	DefaultTimeFormat = "2006-01-02 15:04:05.000"
)

type formatter struct {
	pattern string
	time    string
}

// Format supports unified log output format that has %time, %level, %field, %msg, %caller, %func, %goroutine.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	output := f.pattern
	output = strings.Replace(output, "%time", entry.Time.Format(f.time), 1)
	output = strings.Replace(output, "%level", entry.Level.String(), 1)
	output = strings.Replace(output, "%field", buildFields(entry), 1)
	output = strings.Replace(output, "%msg", entry.Message, 1)
	output = strings.Replace(output, "%caller", getCaller(entry), 1)
	output = strings.Replace(output, "%func", getFunc(entry), 1)
	output = strings.Replace(output, "%goroutine", getGoroutineID(), 1)
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return []byte(output), nil
}

// getCaller returns pkg/file.go:line.
func getCaller(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "unknown"
	}
	file := entry.Caller.File
	if i := strings.LastIndex(file, "/"); i != -1 && i+1 < len(file) {
		file = file[i+1:]
	}
	// package is the last path element of the function name, up to its first dot
	pkg := entry.Caller.Function
	if i := strings.LastIndex(pkg, "/"); i != -1 {
		pkg = pkg[i+1:]
	}
	if i := strings.Index(pkg, "."); i != -1 {
		pkg = pkg[:i]
	}
	return fmt.Sprintf("%s/%s:%d", pkg, file, entry.Caller.Line)
}

func getFunc(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "unknown"
	}
	fn := entry.Caller.Function
	if i := strings.LastIndex(fn, "."); i != -1 && i+1 < len(fn) {
		return fn[i+1:]
	}
	return fn
}

func getGoroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if fields := strings.Fields(stack); len(fields) > 0 {
		return fields[0]
	}
	return "unknown"
}

// buildFields renders entry.Data as k=v pairs sorted by key.
func buildFields(entry *logrus.Entry) string {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		val, ok := entry.Data[k].(string)
		if !ok {
			val = fmt.Sprint(entry.Data[k])
		}
		fields = append(fields, k+"="+val)
	}
	return strings.Join(fields, ",")
}

// callerLogger only exists so that logrus.Entry.HasCaller reports true.
var callerLogger = &logrus.Logger{ReportCaller: true}

// PatternHandler is a slog.Handler that renders records through the
// pattern formatter.
type PatternHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	fmt    *formatter
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewPatternHandler creates a handler writing to w. Empty pattern or
// timeFormat fall back to the defaults.
func NewPatternHandler(w io.Writer, pattern, timeFormat string, opts *slog.HandlerOptions) *PatternHandler {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if timeFormat == "" {
		timeFormat = DefaultTimeFormat
	}
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &PatternHandler{
		mu:    &sync.Mutex{},
		w:     w,
		fmt:   &formatter{pattern: pattern, time: timeFormat},
		level: level,
	}
}

func (h *PatternHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *PatternHandler) Handle(_ context.Context, r slog.Record) error {
	data := make(logrus.Fields, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addField(data, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(data, h.prefix, a)
		return true
	})

	entry := &logrus.Entry{
		Logger:  callerLogger,
		Data:    data,
		Time:    r.Time,
		Level:   toLogrusLevel(r.Level),
		Message: r.Message,
	}
	if r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		entry.Caller = &frame
	}

	line, err := h.fmt.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(line)
	return err
}

func (h *PatternHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *PatternHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func addField(data logrus.Fields, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addField(data, p, ga)
		}
		return
	}
	data[prefix+a.Key] = a.Value.Any()
}

func toLogrusLevel(l slog.Level) logrus.Level {
	switch {
	case l >= slog.LevelError:
		return logrus.ErrorLevel
	case l >= slog.LevelWarn:
		return logrus.WarnLevel
	case l >= slog.LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
