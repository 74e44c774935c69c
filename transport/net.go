// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package transport

import (
	"context"
	"net"
	"strings"
)

// Net constructs a transport that dials addr when opened. This is useful for
// serial devices exposed over the network by a terminal server, or for a
// device simulator listening on a local socket. The network type is chosen
// by SplitAddress.
func Net(addr string) *NetPort { return &NetPort{addr: addr} }

// A NetPort is a transport over a stream network connection.
type NetPort struct {
	link
	addr   string
	dialer net.Dialer
}

// Addr returns the address dialed by p.
func (p *NetPort) Addr() string { return p.addr }

// Open implements a method of the [serialmsg.Transport] interface.
func (p *NetPort) Open(ctx context.Context) error {
	if ok, err := p.isOpen(); err != nil {
		return err
	} else if ok {
		return nil
	}
	network, address := SplitAddress(p.addr)
	conn, err := p.dialer.DialContext(ctx, network, address)
	if err != nil {
		return err
	}
	return p.set(conn)
}

// SplitAddress parses an address string to guess a network type and target.
//
// If s does not have the form [host]:port, the network is "unix". The network
// "unix" is also chosen if port == "", port contains characters other than
// ASCII letters, digits, and "-", or if host contains a "/". Otherwise the
// network is "tcp". SplitAddress does not check whether the address is
// lexically valid.
func SplitAddress(s string) (network, address string) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "unix", s
	}
	host, port := s[:i], s[i+1:]
	if port == "" || !isServiceName(port) || strings.IndexByte(host, '/') >= 0 {
		return "unix", s
	}
	return "tcp", s
}

// isServiceName reports whether s looks like a service name from services(5):
// letters, digits, and "-".
func isServiceName(s string) bool {
	for _, b := range s {
		if b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b == '-' {
			continue
		}
		return false
	}
	return true
}
