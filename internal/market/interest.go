package market

import (
	"sort"

	"github.com/rickgao/market-stream/internal/model"
)

// Interest is a reference-counted symbol set. A symbol is present exactly while
// at least one consumer holds it.
type Interest struct {
	counts map[string]int
}

// NewInterest creates an empty registry.
func NewInterest() *Interest {
	return &Interest{counts: make(map[string]int)}
}

// Increment adds one reference per symbol and returns the symbols that went
// from zero to one, sorted. Symbols are normalised and de-duplicated first.
func (i *Interest) Increment(symbols ...string) []string {
	var added []string
	for _, s := range model.NormalizeSymbols(symbols) {
		i.counts[s]++
		if i.counts[s] == 1 {
			added = append(added, s)
		}
	}
	return added
}

// Decrement drops one reference per symbol and returns the symbols that reached
// zero, sorted. Symbols with no references are ignored.
func (i *Interest) Decrement(symbols ...string) []string {
	var removed []string
	for _, s := range model.NormalizeSymbols(symbols) {
		n, ok := i.counts[s]
		if !ok {
			continue
		}
		if n <= 1 {
			delete(i.counts, s)
			removed = append(removed, s)
			continue
		}
		i.counts[s] = n - 1
	}
	return removed
}

// IsEmpty reports whether no symbol is referenced.
func (i *Interest) IsEmpty() bool {
	return len(i.counts) == 0
}

// Has reports whether the symbol has at least one reference.
func (i *Interest) Has(symbol string) bool {
	_, ok := i.counts[model.NormalizeSymbol(symbol)]
	return ok
}

// Count returns the reference count for symbol.
func (i *Interest) Count(symbol string) int {
	return i.counts[model.NormalizeSymbol(symbol)]
}

// Len returns the number of distinct referenced symbols.
func (i *Interest) Len() int {
	return len(i.counts)
}

// Symbols returns the referenced symbols, sorted.
func (i *Interest) Symbols() []string {
	out := make([]string, 0, len(i.counts))
	for s := range i.counts {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
