package tools

import (
	"io"
	"os"
	"strings"

	"github.com/modfin/henry/mapz"
	"github.com/modfin/henry/slicez"
	"github.com/sirupsen/logrus"
)

// NewLogger creates the root logger all component loggers are cloned from
func NewLogger(level string, json bool) *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// NopLogger discards everything, used in tests
func NopLogger() *Logger {
	l := logrus.New()
	l.Out = io.Discard
	return LoggerCloner(l)
}

func LoggerCloner(l *logrus.Logger) *Logger {
	return &Logger{
		def: l,
	}
}

type Logger struct {
	def *logrus.Logger
}

func (l *Logger) New(name string) *logrus.Logger {

	// the per level slices are copied too, AddHook on a clone must not append into the root's backing arrays
	hooks := mapz.Clone(l.def.Hooks)
	for level, hs := range hooks {
		hooks[level] = slicez.Map(hs, func(h logrus.Hook) logrus.Hook { return h })
	}

	ll := &logrus.Logger{
		Out:          l.def.Out,
		Formatter:    l.def.Formatter,
		Hooks:        hooks,
		Level:        l.def.Level,
		ExitFunc:     l.def.ExitFunc,
		ReportCaller: l.def.ReportCaller,
	}

	ll.AddHook(LoggerWho{Name: name})
	return ll

}

type LoggerWho struct {
	Name string
}

func (w LoggerWho) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (w LoggerWho) Fire(entry *logrus.Entry) error {
	entry.Data["who"] = w.Name
	return nil
}
