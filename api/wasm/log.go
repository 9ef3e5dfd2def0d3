package wasm

import (
	"runtime"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels understood by log_message.
const (
	LogDebug uint32 = 0
	LogInfo  uint32 = 1
	LogWarn  uint32 = 2
	LogError uint32 = 3
)

// Log sends msg to the host logger.
func Log(level uint32, msg string) {
	if msg == "" {
		return
	}
	b := []byte(msg)
	logMessage(level, bufPtr(b), uint32(len(b)))
	runtime.KeepAlive(b)
}

// NewLogger returns a logger whose entries are written by the host. The host
// adds its own timestamp and level.
func NewLogger(level zapcore.LevelEnabler) *zap.Logger {
	return zap.New(&hostCore{
		LevelEnabler: level,
		enc: zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey:       "msg",
			NameKey:          "logger",
			ConsoleSeparator: " ",
		}),
		write: Log,
	})
}

type hostCore struct {
	zapcore.LevelEnabler
	enc   zapcore.Encoder
	write func(level uint32, msg string)
}

func (c *hostCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &hostCore{LevelEnabler: c.LevelEnabler, enc: c.enc.Clone(), write: c.write}
	for _, f := range fields {
		f.AddTo(clone.enc)
	}
	return clone
}

func (c *hostCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *hostCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.write(hostLevel(ent.Level), strings.TrimSuffix(buf.String(), "\n"))
	buf.Free()
	return nil
}

func (c *hostCore) Sync() error { return nil }

func hostLevel(l zapcore.Level) uint32 {
	switch {
	case l <= zapcore.DebugLevel:
		return LogDebug
	case l == zapcore.InfoLevel:
		return LogInfo
	case l == zapcore.WarnLevel:
		return LogWarn
	default:
		return LogError
	}
}
