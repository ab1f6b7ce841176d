package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where component loggers write and at which levels.
// Levels use the 0 (trace) .. 6 (off) scale of the settings file.
type Options struct {
	File            string
	ConsoleMinLevel int
	FileMinLevel    int
	Levels          map[string]int
	DefaultLevel    int
}

// Logging owns the shared log file and hands out per-component loggers.
type Logging struct {
	opts    Options
	file    *lumberjack.Logger
	console io.Writer
}

// New opens the rotating log file described by opts.
func New(opts Options) *Logging {
	l := &Logging{opts: opts, console: os.Stderr}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxBackups: 1,
		}
	}
	return l
}

// For returns the logger of the named component.
func (l *Logging) For(name string) *logrus.Entry {
	level, ok := l.opts.Levels[name]
	if !ok {
		level = l.opts.DefaultLevel
	}

	logger := logrus.New()
	logger.SetLevel(ToLogrusLevel(level))
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: l.console, LogLevels: availableLevels(ToLogrusLevel(l.opts.ConsoleMinLevel))})
	if l.file != nil {
		logger.AddHook(&writerHook{Writer: l.file, LogLevels: availableLevels(ToLogrusLevel(l.opts.FileMinLevel))})
	}
	return logger.WithField("name", name)
}

// Close flushes and closes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// writerHook writes logs to the specified writer for provided levels.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

// ToLogrusLevel maps the numeric settings scale to a logrus level.
func ToLogrusLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}
