// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload propagation.
// Backs the engine's opaque key/value configuration: callers pass a
// map[string]any, and the engine reads it back through the typed
// accessors below for the keys it recognizes.

package control

import (
	"sync"
	"time"
)

// Recognized configuration keys. Unrecognized keys are stored and
// returned by GetSnapshot but otherwise ignored by the engine.
const (
	KeyResourceQuotaBytes              = "resource_quota"
	KeyTCPTxZeroCopyEnabled            = "tcp_tx_zerocopy_enabled"
	KeyTCPTxZeroCopySendBytesThreshold = "tcp_tx_zerocopy_send_bytes_threshold"
	KeyClientIdleTimeoutMS             = "client_idle_timeout_ms"
	KeyPollStrategy                    = "poll_strategy"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	copy := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		copy[k] = v
	}
	return copy
}

// SetConfig merges new values and dispatches reload if needed.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.dispatchReload()
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners.
func (cs *ConfigStore) dispatchReload() {
	for _, fn := range cs.listeners {
		go fn()
	}
}

// Get returns a single value and whether it was present.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// Int64 reads a key as an int64, returning def if absent or the wrong type.
func (cs *ConfigStore) Int64(key string, def int64) int64 {
	v, ok := cs.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return def
	}
}

// Bool reads a key as a bool, returning def if absent or the wrong type.
func (cs *ConfigStore) Bool(key string, def bool) bool {
	v, ok := cs.Get(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Duration reads a millisecond-valued key as a time.Duration.
func (cs *ConfigStore) Duration(key string, def time.Duration) time.Duration {
	v, ok := cs.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return time.Duration(n) * time.Millisecond
	case int:
		return time.Duration(n) * time.Millisecond
	default:
		return def
	}
}

// String reads a key as a string, returning def if absent or the wrong type.
func (cs *ConfigStore) String(key, def string) string {
	v, ok := cs.Get(key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}
