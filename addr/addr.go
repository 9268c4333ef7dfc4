// Package addr implements the engine's copyable, heap-allocation-free
// resolved address type, adapted from EventEngine::ResolvedAddress
// (original_source/include/grpc/event_engine/event_engine.h) into an
// idiomatic Go value type, plus textual URI parsing for the
// "ipvX:host:port" / "unix:path" address forms.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package addr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// MaxSize bounds the inline storage, matching ResolvedAddress::MAX_SIZE_BYTES.
const MaxSize = 128

// Address is a copyable, inline-stored network address. The zero Address is
// invalid (Len() == 0).
type Address struct {
	family byte // 0 = unset, 4 = ipv4, 6 = ipv6, 1 = unix
	buf    [MaxSize]byte
	n      int
}

// Family identifies the address family.
type Family byte

const (
	FamilyUnset Family = 0
	FamilyIPv4  Family = 4
	FamilyIPv6  Family = 6
	FamilyUnix  Family = 1
)

// Family reports the address family.
func (a Address) Family() Family { return Family(a.family) }

// Len reports how many bytes of the inline buffer are in use.
func (a Address) Len() int { return a.n }

// Bytes returns the raw inline payload (host-order specific, opaque to callers).
func (a Address) Bytes() []byte { return a.buf[:a.n] }

// Valid reports whether the address carries any data.
func (a Address) Valid() bool { return a.family != 0 }

// FromTCPAddr builds an Address from a resolved *net.TCPAddr.
func FromTCPAddr(ta *net.TCPAddr) Address {
	var a Address
	ip := ta.IP
	if ip4 := ip.To4(); ip4 != nil {
		a.family = byte(FamilyIPv4)
		copy(a.buf[:], ip4)
		a.n = len(ip4)
	} else {
		a.family = byte(FamilyIPv6)
		ip16 := ip.To16()
		copy(a.buf[:], ip16)
		a.n = len(ip16)
	}
	a.buf[a.n] = byte(ta.Port >> 8)
	a.buf[a.n+1] = byte(ta.Port)
	a.n += 2
	return a
}

// FromUnixAddr builds an Address from a resolved *net.UnixAddr.
func FromUnixAddr(ua *net.UnixAddr) Address {
	var a Address
	a.family = byte(FamilyUnix)
	n := copy(a.buf[:], ua.Name)
	a.n = n
	return a
}

// Port extracts the port component for an IPv4/IPv6 address; 0 for unix.
func (a Address) Port() int {
	if a.family != byte(FamilyIPv4) && a.family != byte(FamilyIPv6) {
		return 0
	}
	if a.n < 2 {
		return 0
	}
	return int(a.buf[a.n-2])<<8 | int(a.buf[a.n-1])
}

// IP extracts the IP component for an IPv4/IPv6 address; nil for unix.
func (a Address) IP() net.IP {
	switch Family(a.family) {
	case FamilyIPv4:
		return net.IP(a.buf[:4])
	case FamilyIPv6:
		return net.IP(a.buf[:16])
	default:
		return nil
	}
}

// Path extracts the filesystem path for a unix address; "" otherwise.
func (a Address) Path() string {
	if a.family != byte(FamilyUnix) {
		return ""
	}
	return string(a.buf[:a.n])
}

// String renders the address in its "ipvX:host:port" / "unix:path" textual form.
func (a Address) String() string {
	switch Family(a.family) {
	case FamilyIPv4:
		return fmt.Sprintf("ipv4:%s:%d", a.IP(), a.Port())
	case FamilyIPv6:
		return fmt.Sprintf("ipv6:[%s]:%d", a.IP(), a.Port())
	case FamilyUnix:
		return "unix:" + a.Path()
	default:
		return "<invalid>"
	}
}

// NetAddr renders a standard library net.Addr usable for net.Dial/net.Listen.
func (a Address) NetAddr(network string) (net.Addr, error) {
	switch Family(a.family) {
	case FamilyIPv4, FamilyIPv6:
		return &net.TCPAddr{IP: a.IP(), Port: a.Port()}, nil
	case FamilyUnix:
		return &net.UnixAddr{Name: a.Path(), Net: network}, nil
	default:
		return nil, fmt.Errorf("addr: invalid address")
	}
}

// Parse decodes a textual URI of the form "ipvX:host:port" or "unix:path".
// Port 0 is permitted and means "ephemeral" to a Bind call.
func Parse(uri string) (Address, string, error) {
	switch {
	case strings.HasPrefix(uri, "unix:"):
		path := strings.TrimPrefix(uri, "unix:")
		var a Address
		a.family = byte(FamilyUnix)
		n := copy(a.buf[:], path)
		a.n = n
		return a, "unix", nil
	case strings.HasPrefix(uri, "ipv4:"):
		return parseIPPort(strings.TrimPrefix(uri, "ipv4:"), FamilyIPv4)
	case strings.HasPrefix(uri, "ipv6:"):
		return parseIPPort(strings.TrimPrefix(uri, "ipv6:"), FamilyIPv6)
	default:
		return Address{}, "", fmt.Errorf("addr: unrecognized uri %q", uri)
	}
}

func parseIPPort(hostport string, fam Family) (Address, string, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// SplitHostPort requires brackets for ipv6 host:port; also accept
		// a bare host with no port (e.g. DNS lookups with a default port).
		host = strings.Trim(hostport, "[]")
		portStr = "0"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, "", fmt.Errorf("addr: bad port %q: %w", portStr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Address{}, "", fmt.Errorf("addr: unresolved host %q", host)
	}
	network := "tcp4"
	var a Address
	if fam == FamilyIPv6 {
		network = "tcp6"
		a.family = byte(FamilyIPv6)
		ip16 := ip.To16()
		copy(a.buf[:], ip16)
		a.n = len(ip16)
	} else {
		a.family = byte(FamilyIPv4)
		ip4 := ip.To4()
		if ip4 == nil {
			return Address{}, "", fmt.Errorf("addr: %q is not an IPv4 address", host)
		}
		copy(a.buf[:], ip4)
		a.n = len(ip4)
	}
	a.buf[a.n] = byte(port >> 8)
	a.buf[a.n+1] = byte(port)
	a.n += 2
	return a, network, nil
}
