// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Program serialmsg is a command-line utility for exchanging fixed-length
// messages with a device over a serial link.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/serialmsg"
	"github.com/creachadair/serialmsg/catalog"
	"go.uber.org/zap"
)

const defaultConfigPath = "serialmsg.toml"

var flags struct {
	Config   string `flag:"config,default=serialmsg.toml,Configuration file path"`
	Port     string `flag:"port,Serial device path (overrides the config file)"`
	Addr     string `flag:"addr,Network address of the device (overrides the config file)"`
	LogLevel string `flag:"log-level,default=info,Log level (debug, info, warn, error)"`
}

var sendFlags struct {
	Await   string        `flag:"await,Wait for a reply with this identifier"`
	Timeout time.Duration `flag:"timeout,default=5s,Maximum time to wait for a reply"`
}

var demoFlags struct {
	Timeout time.Duration `flag:"timeout,default=5s,Maximum time to wait for each reply"`
}

var packFlags struct {
	ID string `flag:"id,Prefix the payload with this message identifier"`
}

var catalogFlags struct {
	Encode bool `flag:"encode,Print the encoded catalog in hex"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Usage:    "[flags] <command> [args...]",
		Help:     "Utilities for exchanging fixed-length messages with a serial device.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name: "listen",
				Help: `Open the device and log the messages it sends.

Handlers are registered from the configuration file. If echo is enabled, every
byte received is written back to the device. The command exits when a handler
with an exit payload receives that payload, or when interrupted.`,
				Run: runListen,
			},
			{
				Name:     "send",
				Usage:    "<id> <payload>",
				Help:     "Send a message to the device.\n\nThe payload is a Go-style quoted string without the quotes.",
				SetFlags: command.Flags(flax.MustBind, &sendFlags),
				Run:      runSend,
			},
			{
				Name:     "demo",
				Help:     `Send "test\r\n" to the device and wait for its 'a' and 'b' replies.`,
				SetFlags: command.Flags(flax.MustBind, &demoFlags),
				Run:      runDemo,
			},
			{
				Name:     "pack",
				Usage:    "<pattern> <argument>...",
				Help:     packHelp,
				SetFlags: command.Flags(flax.MustBind, &packFlags),
				Run:      runPack,
			},
			{
				Name:     "catalog",
				Help:     "Print the configured message handlers.",
				SetFlags: command.Flags(flax.MustBind, &catalogFlags),
				Run:      runCatalog,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// A device is an open session with its configuration.
type device struct {
	cfg config
	s   *serialmsg.Session
	cat catalog.Catalog
	log *zap.Logger
}

func (d *device) Close() error {
	err := d.s.Close()
	d.log.Sync()
	return err
}

// openDevice loads the configuration, registers its handlers, and opens a
// session on the configured device.
func openDevice(ctx context.Context) (*device, error) {
	log, err := newLogger(os.Stderr, flags.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(flags.Config, flags.Config != defaultConfigPath)
	if err != nil {
		return nil, err
	}
	if flags.Port != "" {
		cfg.Port, cfg.Addr = flags.Port, ""
	} else if flags.Addr != "" {
		cfg.Port, cfg.Addr = "", flags.Addr
	}
	t, err := cfg.Transport()
	if err != nil {
		return nil, err
	}

	s := serialmsg.NewSession(t)
	cat, err := cfg.Catalog().Bind(s)
	if err != nil {
		return nil, err
	}
	logSession(s, log)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	log.Info("device open", zap.String("port", cfg.Port), zap.String("addr", cfg.Addr),
		zap.Int("handlers", cat.Len()))
	return &device{cfg: cfg, s: s, cat: cat, log: log}, nil
}

func runListen(env *command.Env) error {
	ctx, cancel := signal.NotifyContext(env.Context(), os.Interrupt)
	defer cancel()

	d, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	exit := make(chan string, 1)
	for _, h := range d.cfg.Handlers {
		if h.Exit == "" {
			continue
		}
		d.cat.Subscribe(h.name(), func(m *serialmsg.Message) error {
			if string(m.Payload) == h.Exit {
				select {
				case exit <- m.Handler.Name():
				default:
				}
			}
			return nil
		})
	}
	if d.cfg.Echo {
		d.s.OnRaw(func(data []byte) {
			if _, err := d.s.Send(data); err != nil {
				d.log.Warn("echo failed", zap.Error(err))
			}
		})
	}

	stopped := make(chan error, 1)
	go func() { stopped <- d.s.Wait() }()

	select {
	case name := <-exit:
		d.log.Info("exit message received", zap.String("name", name))
	case err := <-stopped:
		return err
	case <-ctx.Done():
		d.log.Info("interrupted")
	}
	return nil
}

func runSend(env *command.Env) error {
	if len(env.Args) != 2 {
		return env.Usagef("Expected an identifier and a payload")
	}
	id, err := parseID(env.Args[0])
	if err != nil {
		return err
	}
	data, err := unquote(env.Args[1])
	if err != nil {
		return err
	}

	d, err := openDevice(env.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	h := d.s.Lookup(id)
	if h == nil {
		return fmt.Errorf("message %#02x: %w", id, serialmsg.ErrNoSuchHandler)
	}
	if sendFlags.Await == "" {
		_, err := d.s.SendMessage(h, []byte(data))
		return err
	}

	rid, err := parseID(sendFlags.Await)
	if err != nil {
		return err
	}
	rh := d.s.Lookup(rid)
	if rh == nil {
		return fmt.Errorf("reply %#02x: %w", rid, serialmsg.ErrNoSuchHandler)
	}
	msg, err := h.Encode([]byte(data))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(env.Context(), sendFlags.Timeout)
	defer cancel()
	rsp, err := d.s.Call(ctx, rh, msg)
	if err != nil {
		return err
	}
	fmt.Printf("%s %q\n", rsp.Handler.Name(), rsp.Payload)
	return nil
}

func runDemo(env *command.Env) error {
	d, err := openDevice(env.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	ha, hb := d.s.Lookup('a'), d.s.Lookup('b')
	if ha == nil || hb == nil {
		return errors.New("demo requires handlers for 'a' and 'b'")
	}

	// Arm both waits before sending, so neither reply can be missed.
	pa, pb := ha.Next(), hb.Next()
	if _, err := d.s.Send([]byte("test\r\n")); err != nil {
		pa.Cancel()
		pb.Cancel()
		return err
	}
	for _, p := range []*serialmsg.Pending{pa, pb} {
		ctx, cancel := context.WithTimeout(env.Context(), demoFlags.Timeout)
		msg, err := p.Wait(ctx)
		cancel()
		if err != nil {
			return err
		}
		fmt.Printf("%s: %q\n", msg.Handler.Name(), msg.Payload)
	}
	return nil
}

func runPack(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("Missing format argument")
	}
	data, rest, err := packPayload(env.Args[0], env.Args[1:])
	if err != nil {
		return err
	} else if len(rest) != 0 {
		return fmt.Errorf("extra arguments: %q", rest)
	}
	if packFlags.ID != "" {
		id, err := parseID(packFlags.ID)
		if err != nil {
			return err
		}
		data = serialmsg.Encode(id, data)
	}
	os.Stdout.Write(data)
	return nil
}

func runCatalog(env *command.Env) error {
	cfg, err := loadConfig(flags.Config, flags.Config != defaultConfigPath)
	if err != nil {
		return err
	}
	cat := cfg.Catalog()
	if catalogFlags.Encode {
		fmt.Println(hex.EncodeToString(cat.Encode()))
		return nil
	}
	for _, d := range cat.Descriptors() {
		fmt.Printf("%#02x\t%d\t%s\n", d.ID, d.Length, d.Name)
	}
	return nil
}
