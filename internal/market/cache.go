package market

import (
	"github.com/rickgao/market-stream/internal/model"
)

// Cache holds the most recent tick per symbol.
type Cache struct {
	ticks map[string]model.Tick
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{ticks: make(map[string]model.Tick)}
}

// Apply stores tick as the latest entry for its symbol, replacing only that
// entry. It reports whether the cache changed; ticks without a symbol are ignored.
func (c *Cache) Apply(tick model.Tick) bool {
	if tick.Symbol == "" {
		return false
	}
	c.ticks[tick.Symbol] = tick
	return true
}

// Evict removes the given symbols and reports whether any entry was removed.
func (c *Cache) Evict(symbols ...string) bool {
	changed := false
	for _, s := range symbols {
		s = model.NormalizeSymbol(s)
		if _, ok := c.ticks[s]; ok {
			delete(c.ticks, s)
			changed = true
		}
	}
	return changed
}

// Get returns the latest tick for symbol.
func (c *Cache) Get(symbol string) (model.Tick, bool) {
	t, ok := c.ticks[model.NormalizeSymbol(symbol)]
	return t, ok
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	return len(c.ticks)
}

// Snapshot returns a copy of the cache contents.
func (c *Cache) Snapshot() model.Snapshot {
	out := make(model.Snapshot, len(c.ticks))
	for s, t := range c.ticks {
		out[s] = t
	}
	return out
}

// Reset drops every entry.
func (c *Cache) Reset() {
	clear(c.ticks)
}
