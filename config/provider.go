package config

import "sync/atomic"

// Provider hands out the current configuration snapshot. Readers always see
// a complete Config; Update swaps the pointer atomically so a reload never
// exposes a half-written struct.
type Provider struct {
	current atomic.Pointer[Config]
}

func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Get returns the current snapshot. Callers must not mutate it.
func (p *Provider) Get() *Config {
	return p.current.Load()
}

func (p *Provider) Update(cfg *Config) {
	p.current.Store(cfg)
}
