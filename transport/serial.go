// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Default serial port settings.
const (
	DefaultBaud        = 9600
	DefaultReadTimeout = 100 * time.Millisecond
)

// SerialConfig holds the settings for a serial port. Zero fields take their
// default values.
type SerialConfig struct {
	Name        string        // device path, e.g., "/dev/ttyUSB0" or "COM3"
	Baud        int           // default 9600
	ReadTimeout time.Duration // maximum time a read blocks; default 100ms
	Size        byte          // data bits; default 8
	Parity      byte          // 'N', 'O', 'E', 'M', or 'S'; default 'N'
	StopBits    byte          // 1, 15 (meaning 1.5), or 2; default 1
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Size == 0 {
		c.Size = serial.DefaultSize
	}
	if c.Parity == 0 {
		c.Parity = byte(serial.ParityNone)
	}
	if c.StopBits == 0 {
		c.StopBits = byte(serial.Stop1)
	}
	return c
}

// Check reports an error if c cannot describe a serial port.
func (c SerialConfig) Check() error {
	c = c.withDefaults()
	if c.Name == "" {
		return errors.New("serial: missing port name")
	}
	switch serial.Parity(c.Parity) {
	case serial.ParityNone, serial.ParityOdd, serial.ParityEven, serial.ParityMark, serial.ParitySpace:
	default:
		return fmt.Errorf("serial: invalid parity %q", c.Parity)
	}
	switch serial.StopBits(c.StopBits) {
	case serial.Stop1, serial.Stop1Half, serial.Stop2:
	default:
		return fmt.Errorf("serial: invalid stop bits %d", c.StopBits)
	}
	return nil
}

// Serial constructs a transport for the serial port described by cfg. The
// port is not opened until Open is called.
func Serial(cfg SerialConfig) *SerialPort { return &SerialPort{cfg: cfg.withDefaults()} }

// A SerialPort is a transport over a local serial device.
type SerialPort struct {
	link
	cfg SerialConfig
}

// Config returns the settings of p, with defaults applied.
func (p *SerialPort) Config() SerialConfig { return p.cfg }

// Open implements a method of the [serialmsg.Transport] interface.
func (p *SerialPort) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ok, err := p.isOpen(); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := p.cfg.Check(); err != nil {
		return err
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        p.cfg.Name,
		Baud:        p.cfg.Baud,
		ReadTimeout: p.cfg.ReadTimeout,
		Size:        p.cfg.Size,
		Parity:      serial.Parity(p.cfg.Parity),
		StopBits:    serial.StopBits(p.cfg.StopBits),
	})
	if err != nil {
		return fmt.Errorf("serial: open %q: %w", p.cfg.Name, err)
	}
	return p.set(port)
}

// Read implements a method of the [serialmsg.Transport] interface.  A read
// that times out without data reports (0, nil).
func (p *SerialPort) Read(buf []byte) (int, error) {
	n, err := p.link.Read(buf)
	if errors.Is(err, io.EOF) {
		// The port reports EOF when the read timeout expires.
		return n, nil
	}
	return n, err
}
