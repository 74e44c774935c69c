// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"fmt"
	"io"

	"github.com/creachadair/serialmsg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger creates a console logger writing to w at the named level.
func newLogger(w io.Writer, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "time",
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeTime:  zapcore.RFC3339TimeEncoder,
		EncodeLevel: zapcore.CapitalLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		lvl,
	)
	return zap.New(core), nil
}

// logSession attaches log hooks for the events of s to log.
func logSession(s *serialmsg.Session, log *zap.Logger) {
	s.LogMessages(func(m *serialmsg.Message) {
		log.Info("message",
			zap.String("id", fmt.Sprintf("%#02x", m.ID)),
			zap.String("name", m.Handler.Name()),
			zap.ByteString("payload", m.Payload),
		)
	}).OnDrop(func(id byte) {
		log.Debug("dropped byte", zap.String("id", fmt.Sprintf("%#02x", id)))
	}).OnFrameStart(func(h *serialmsg.Handler) {
		log.Debug("frame start", zap.String("name", h.Name()), zap.Int("length", h.Length()))
	}).OnError(func(err error) {
		log.Warn("listener failed", zap.Error(err))
	}).OnExit(func(err error) {
		if err != nil {
			log.Error("receive loop stopped", zap.Error(err))
		} else {
			log.Debug("receive loop stopped")
		}
	})
}
