//go:build windows
// +build windows

package resolver

import "time"

// loadSystemConfig has no /etc/resolv.conf equivalent to parse on
// Windows; fall back to fixed public resolvers the way pool/numa_stub.go
// falls back to a safe default when a platform facility is unavailable.
func loadSystemConfig() ([]string, time.Duration) {
	return []string{"8.8.8.8:53", "1.1.1.1:53"}, 5 * time.Second
}
