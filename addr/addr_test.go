package addr_test

import (
	"net"
	"testing"

	"github.com/momentics/ioengine/addr"
)

func TestParseIPv4RoundTripsThroughString(t *testing.T) {
	a, network, err := addr.Parse("ipv4:127.0.0.1:8080")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if network != "tcp4" {
		t.Fatalf("network = %q, want tcp4", network)
	}
	if got := a.String(); got != "ipv4:127.0.0.1:8080" {
		t.Fatalf("String() = %q", got)
	}
	if a.Port() != 8080 {
		t.Fatalf("Port() = %d, want 8080", a.Port())
	}
}

func TestParseIPv6RoundTripsThroughString(t *testing.T) {
	a, network, err := addr.Parse("ipv6:[::1]:9000")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if network != "tcp6" {
		t.Fatalf("network = %q, want tcp6", network)
	}
	if got := a.String(); got != "ipv6:[::1]:9000" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseUnixPath(t *testing.T) {
	a, network, err := addr.Parse("unix:/tmp/engine.sock")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if network != "unix" {
		t.Fatalf("network = %q, want unix", network)
	}
	if a.Path() != "/tmp/engine.sock" {
		t.Fatalf("Path() = %q", a.Path())
	}
	if got := a.String(); got != "unix:/tmp/engine.sock" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseRejectsUnrecognizedScheme(t *testing.T) {
	if _, _, err := addr.Parse("http://example.com"); err == nil {
		t.Fatal("expected an error for an unrecognized scheme")
	}
}

func TestFromTCPAddrPreservesPortAndFamily(t *testing.T) {
	ta := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 443}
	a := addr.FromTCPAddr(ta)
	if a.Family() != addr.FamilyIPv4 {
		t.Fatalf("Family() = %v, want FamilyIPv4", a.Family())
	}
	if a.Port() != 443 {
		t.Fatalf("Port() = %d, want 443", a.Port())
	}
	if !a.IP().Equal(net.ParseIP("10.0.0.5")) {
		t.Fatalf("IP() = %v", a.IP())
	}
}

func TestNetAddrRoundTripsForDial(t *testing.T) {
	a, network, err := addr.Parse("ipv4:127.0.0.1:0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	na, err := a.NetAddr(network)
	if err != nil {
		t.Fatalf("NetAddr: %v", err)
	}
	tcpAddr, ok := na.(*net.TCPAddr)
	if !ok {
		t.Fatalf("NetAddr returned %T, want *net.TCPAddr", na)
	}
	if !tcpAddr.IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Fatalf("IP = %v", tcpAddr.IP)
	}
}

func TestZeroAddressIsInvalid(t *testing.T) {
	var a addr.Address
	if a.Valid() {
		t.Fatal("zero Address must be invalid")
	}
	if a.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", a.Len())
	}
}
