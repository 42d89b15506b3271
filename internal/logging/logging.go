// Package logging builds the connector's zap logger: a console core, an
// optional rotating file core and a core that mirrors entries to the UI.
package logging

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/DoyleJ11/gear-connector/internal/gui"
)

const (
	defaultMaxSize    = 10 // MB
	defaultMaxAge     = 7  // days
	defaultMaxBackups = 3
	timeFormat        = "2006/01/02 15:04:05.000"
)

type Options struct {
	Level string
	File  string
	JSON  bool
	// Sink, when set, receives INFO and above as UI signals.
	Sink    gui.Sink
	Console io.Writer
}

// New returns the logger and a function that flushes and closes its
// outputs.
func New(o Options) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		return nil, nil, err
	}
	console := o.Console
	if console == nil {
		console = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	var consoleEnc zapcore.Encoder
	if o.JSON {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	} else {
		devCfg := encCfg
		devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(devCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(zapcore.AddSync(console)), level),
	}

	var lj *lumberjack.Logger
	if o.File != "" {
		lj = &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    defaultMaxSize,
			MaxAge:     defaultMaxAge,
			MaxBackups: defaultMaxBackups,
			LocalTime:  true,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(lj), level))
	}

	if o.Sink != nil {
		guiLevel := level
		if guiLevel < zapcore.InfoLevel {
			guiLevel = zapcore.InfoLevel
		}
		cores = append(cores, NewGUICore(o.Sink, guiLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	closeFn := func() error {
		_ = logger.Sync() // stderr sync fails on some terminals
		if lj != nil {
			return lj.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

// GUICore forwards entries to the UI as log, warn and error signals.
// Writes never block: the sink drops when it is full.
type GUICore struct {
	zapcore.LevelEnabler
	sink   gui.Sink
	fields []zapcore.Field
}

func NewGUICore(sink gui.Sink, enab zapcore.LevelEnabler) *GUICore {
	return &GUICore{LevelEnabler: enab, sink: sink}
}

// LogLine is the payload of a forwarded entry.
type LogLine struct {
	Time    time.Time      `json:"time"`
	Logger  string         `json:"logger,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (c *GUICore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(c.fields[:len(c.fields):len(c.fields)], fields...)
	return &clone
}

func (c *GUICore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *GUICore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	name := signalFor(ent.Level)
	if name == "" {
		return nil
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	line := LogLine{Time: ent.Time, Logger: ent.LoggerName, Message: ent.Message}
	if len(enc.Fields) > 0 {
		line.Fields = enc.Fields
	}
	c.sink.Publish(gui.Signal{Name: name, Payload: line})
	return nil
}

func (c *GUICore) Sync() error { return nil }

func signalFor(l zapcore.Level) string {
	switch {
	case l >= zapcore.ErrorLevel:
		return gui.SignalError
	case l == zapcore.WarnLevel:
		return gui.SignalWarn
	case l == zapcore.InfoLevel:
		return gui.SignalLog
	}
	return ""
}
