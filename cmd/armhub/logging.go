package main

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// consoleLogger writes human-oriented log lines to stderr.
func consoleLogger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return log.Sugar()
}

// chanWriter feeds log lines into a channel, dropping when full, so a TUI
// can render them without raw writes corrupting the display.
type chanWriter struct {
	ch chan string
}

func (w chanWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	select {
	case w.ch <- msg:
	default:
	}
	return len(p), nil
}

// tuiLogger routes zap output into ch instead of the terminal.
func tuiLogger(ch chan string) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(chanWriter{ch: ch}),
		zapcore.InfoLevel,
	)
	return zap.New(core).Sugar()
}
