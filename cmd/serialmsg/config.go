// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/serialmsg"
	"github.com/creachadair/serialmsg/catalog"
	"github.com/creachadair/serialmsg/transport"
)

// config.toml key mapping to device and protocol settings.
type config struct {
	Port        string          `toml:"port"`
	Addr        string          `toml:"addr"`
	Baud        int             `toml:"baud"`
	ReadTimeout time.Duration   `toml:"read_timeout"`
	Parity      string          `toml:"parity"`
	StopBits    int             `toml:"stop_bits"`
	Echo        bool            `toml:"echo"`
	Handlers    []handlerConfig `toml:"handler"`
}

// handlerConfig describes one message handler.
type handlerConfig struct {
	ID     int    `toml:"id"`
	Name   string `toml:"name"`
	Length int    `toml:"length"`
	Exit   string `toml:"exit"` // if set, listen exits when this payload arrives
}

// defaultConfig returns the settings used when no configuration file exists.
// The handlers match the stock device sketch: a 4-byte "test" reply, a
// 5-byte "hello" reply, and an exit message.
func defaultConfig() config {
	return config{
		Baud: transport.DefaultBaud,
		Echo: true,
		Handlers: []handlerConfig{
			{ID: 'a', Name: "test", Length: 4},
			{ID: 'b', Name: "hello", Length: 5},
			{ID: 'e', Name: "exit", Length: 3, Exit: "xit"},
		},
	}
}

// loadConfig reads the configuration file at path over the defaults. If path
// does not exist and required is false, the defaults are returned.
func loadConfig(path string, required bool) (config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !required {
		return cfg, nil
	}

	var raw config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if keys := meta.Undecoded(); len(keys) != 0 {
		return config{}, fmt.Errorf("load config: unknown keys %q", keys)
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("read_timeout") {
		cfg.ReadTimeout = raw.ReadTimeout
	}
	if meta.IsDefined("parity") {
		cfg.Parity = strings.TrimSpace(raw.Parity)
	}
	if meta.IsDefined("stop_bits") {
		cfg.StopBits = raw.StopBits
	}
	if meta.IsDefined("echo") {
		cfg.Echo = raw.Echo
	}
	if meta.IsDefined("handler") {
		cfg.Handlers = raw.Handlers
	}

	if err := cfg.Validate(); err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Validate reports an error if cfg is not usable.
func (c config) Validate() error {
	if c.Port != "" && c.Addr != "" {
		return errors.New("port and addr are mutually exclusive")
	}
	if c.Baud < 0 {
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	}
	if len(c.Parity) > 1 {
		return fmt.Errorf("invalid parity %q", c.Parity)
	}
	if c.Port != "" {
		if err := c.serialConfig().Check(); err != nil {
			return err
		}
	}
	ids := make(map[int]bool)
	names := make(map[string]bool)
	for i, h := range c.Handlers {
		if err := h.validate(); err != nil {
			return fmt.Errorf("handler[%d] invalid: %w", i, err)
		}
		if ids[h.ID] {
			return fmt.Errorf("handler[%d] invalid: duplicate id %#02x", i, h.ID)
		}
		if name := h.name(); names[name] {
			return fmt.Errorf("handler[%d] invalid: duplicate name %q", i, name)
		}
		ids[h.ID], names[h.name()] = true, true
	}
	return nil
}

func (h handlerConfig) validate() error {
	if h.ID < 0 || h.ID > serialmsg.MaxID {
		return fmt.Errorf("id %d: %w", h.ID, serialmsg.ErrOutOfRange)
	}
	if h.Length < 1 {
		return fmt.Errorf("length %d: %w", h.Length, serialmsg.ErrInvalidLength)
	}
	if h.Exit != "" && len(h.Exit) != h.Length {
		return fmt.Errorf("exit payload %q does not have length %d", h.Exit, h.Length)
	}
	return nil
}

// name returns the configured name of h, or a name derived from its ID.
func (h handlerConfig) name() string {
	if h.Name != "" {
		return h.Name
	}
	return fmt.Sprintf("msg-%02x", h.ID)
}

// Catalog returns a catalog of the configured handlers.
func (c config) Catalog() catalog.Catalog {
	cat := catalog.New()
	for _, h := range c.Handlers {
		cat.Set(h.name(), byte(h.ID), h.Length)
	}
	return cat
}

func (c config) serialConfig() transport.SerialConfig {
	sc := transport.SerialConfig{
		Name:        c.Port,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
		StopBits:    byte(c.StopBits),
	}
	if c.Parity != "" {
		sc.Parity = strings.ToUpper(c.Parity)[0]
	}
	return sc
}

// Transport returns a transport for the configured device.
func (c config) Transport() (serialmsg.Transport, error) {
	switch {
	case c.Port != "":
		return transport.Serial(c.serialConfig()), nil
	case c.Addr != "":
		return transport.Net(c.Addr), nil
	default:
		return nil, errors.New("no device configured (set port or addr)")
	}
}
