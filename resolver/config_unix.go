//go:build !windows
// +build !windows

package resolver

import (
	"time"

	"github.com/miekg/dns"
)

// loadSystemConfig parses /etc/resolv.conf for the nameserver list and
// query timeout, falling back to public resolvers if the file is absent
// or empty.
func loadSystemConfig() ([]string, time.Duration) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}, 5 * time.Second
	}
	servers := make([]string, len(cfg.Servers))
	for i, s := range cfg.Servers {
		servers[i] = s + ":" + cfg.Port
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return servers, timeout
}
