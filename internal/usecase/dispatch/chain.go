package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"genrelay/internal/catalog"
	"genrelay/internal/domain"
)

// Origin records why an adapter is in the chain.
type Origin string

const (
	OriginPrimary    Origin = "primary"
	OriginFallback   Origin = "fallback"
	OriginDiscovered Origin = "discovered"
)

// AdapterFactory builds adapters from descriptors. llm.Factory implements it.
type AdapterFactory interface {
	Create(desc domain.ProviderDescriptor) (domain.Adapter, error)
}

// ChainConfig is the operator's preference: refs of the form "provider/model".
type ChainConfig struct {
	Primary      string
	Fallbacks    []string
	AutoDiscover bool
}

// Entry is one link of the chain.
type Entry struct {
	Adapter domain.Adapter
	Origin  Origin
}

// Key returns the entry's descriptor key.
func (e Entry) Key() domain.DescriptorKey { return e.Adapter.Descriptor().Key() }

// Chain is the ordered, duplicate-free list of adapters a dispatch walks.
// It is built once at startup and never modified.
type Chain struct {
	entries []Entry
}

// NewChain builds a chain directly from adapters, all marked as fallbacks
// except the first. Duplicate keys keep their first occurrence.
func NewChain(adapters ...domain.Adapter) (*Chain, error) {
	c := &Chain{}
	seen := make(map[domain.DescriptorKey]bool, len(adapters))
	for i, a := range adapters {
		origin := OriginFallback
		if i == 0 {
			origin = OriginPrimary
		}
		key := a.Descriptor().Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		c.entries = append(c.entries, Entry{Adapter: a, Origin: origin})
	}
	if len(c.entries) == 0 {
		return nil, fmt.Errorf("%w: no usable providers", domain.ErrConfiguration)
	}
	return c, nil
}

// Len returns the number of adapters in the chain.
func (c *Chain) Len() int { return len(c.entries) }

// Entries returns a copy of the chain in priority order.
func (c *Chain) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Keys returns the descriptor keys in priority order.
func (c *Chain) Keys() []domain.DescriptorKey {
	keys := make([]domain.DescriptorKey, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.Key()
	}
	return keys
}

// BuildChain assembles the chain: the configured primary, then configured
// fallbacks, then (when enabled) every other descriptor in table order that
// the factory can build. Unavailable descriptors are left out; configuration
// errors abort the build, as does ending up with nothing.
func BuildChain(table catalog.Table, factory AdapterFactory, cfg ChainConfig, logger *slog.Logger) (*Chain, error) {
	b := &chainBuilder{
		factory: factory,
		logger:  logger,
		seen:    make(map[domain.DescriptorKey]bool),
	}

	if cfg.Primary != "" {
		if err := b.addRef(table, cfg.Primary, OriginPrimary); err != nil {
			return nil, err
		}
	}
	for _, ref := range cfg.Fallbacks {
		if err := b.addRef(table, ref, OriginFallback); err != nil {
			return nil, err
		}
	}
	if cfg.AutoDiscover {
		for _, desc := range table.Descriptors() {
			if err := b.add(desc, OriginDiscovered); err != nil {
				return nil, err
			}
		}
	}

	if len(b.entries) == 0 {
		return nil, fmt.Errorf("%w: no usable providers (primary %q, %d fallbacks, auto_discover=%t)",
			domain.ErrConfiguration, cfg.Primary, len(cfg.Fallbacks), cfg.AutoDiscover)
	}

	for i, e := range b.entries {
		logger.Info("chain entry", "position", i, "provider", e.Key().Provider, "model", e.Key().Model, "origin", string(e.Origin))
	}
	return &Chain{entries: b.entries}, nil
}

type chainBuilder struct {
	factory AdapterFactory
	logger  *slog.Logger
	seen    map[domain.DescriptorKey]bool
	entries []Entry
}

func (b *chainBuilder) addRef(table catalog.Table, ref string, origin Origin) error {
	desc, err := table.Resolve(ref)
	if err != nil {
		return fmt.Errorf("%s %q: %w", origin, ref, err)
	}
	return b.add(desc, origin)
}

func (b *chainBuilder) add(desc domain.ProviderDescriptor, origin Origin) error {
	key := desc.Key()
	if b.seen[key] {
		return nil
	}

	adapter, err := b.factory.Create(desc)
	b.seen[key] = true
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnavailable):
		level := slog.LevelWarn
		if origin == OriginDiscovered {
			level = slog.LevelDebug
		}
		b.logger.Log(context.Background(), level, "provider unavailable", "provider", key.Provider, "model", key.Model, "origin", string(origin), "reason", err)
		return nil
	default:
		return fmt.Errorf("%s %s: %w", origin, key, err)
	}

	b.entries = append(b.entries, Entry{Adapter: adapter, Origin: origin})
	return nil
}
