package xembed

import (
	"errors"
	"sync"
)

// HostFactory constructs hosts from a config blob.
type HostFactory func(cfg map[string]any) (Host, error)

var (
	hostRegistryMu sync.RWMutex
	hostRegistry   = map[string]HostFactory{}
)

// RegisterHost registers a host adapter by name.
func RegisterHost(name string, factory HostFactory) error {
	if name == "" {
		return errors.New("host name must not be empty")
	}
	if factory == nil {
		return errors.New("host factory must not be nil")
	}
	hostRegistryMu.Lock()
	hostRegistry[name] = factory
	hostRegistryMu.Unlock()
	return nil
}

// NewHost constructs a registered host by name with config.
func NewHost(name string, cfg map[string]any) (Host, error) {
	hostRegistryMu.RLock()
	f, ok := hostRegistry[name]
	hostRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownHost{name: name}
	}
	return f(cfg)
}
