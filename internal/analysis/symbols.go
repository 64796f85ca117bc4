// Package analysis produces the on-demand symbol and string lists the
// viewer shows next to the disassembly.
package analysis

import (
	"sort"
	"sync"

	"github.com/ianlancetaylor/demangle"

	"lzd/internal/elfx"
)

// Symbol is one named address, demangled for display.
type Symbol struct {
	VA        uint64
	Size      uint64
	Name      string
	Demangled string
}

// demangleCache memoizes demangling; symbol tables repeat names and
// demangling C++ signatures is not cheap.
type demangleCache struct {
	mu    sync.RWMutex
	cache map[string]string
}

var dcache = &demangleCache{cache: make(map[string]string)}

// CachedDemangle demangles a symbol name, memoizing the result. Safe
// for concurrent use.
func CachedDemangle(mangled string) string {
	dcache.mu.RLock()
	if d, ok := dcache.cache[mangled]; ok {
		dcache.mu.RUnlock()
		return d
	}
	dcache.mu.RUnlock()

	d := demangle.Filter(mangled, demangle.NoClones)

	dcache.mu.Lock()
	dcache.cache[mangled] = d
	dcache.mu.Unlock()
	return d
}

// ListSymbols merges the dynamic and static symbol tables, dropping
// duplicate addresses, and returns the result sorted by address.
func ListSymbols(im *elfx.Image) []Symbol {
	seen := make(map[uint64]bool)
	var out []Symbol

	add := func(syms []elfx.Sym) {
		for _, s := range syms {
			if s.Name == "" || seen[s.Addr] {
				continue
			}
			seen[s.Addr] = true
			out = append(out, Symbol{
				VA:        s.Addr,
				Size:      s.Size,
				Name:      s.Name,
				Demangled: CachedDemangle(s.Name),
			})
		}
	}
	add(im.Dynsyms)
	add(im.Syms)

	sort.Slice(out, func(i, j int) bool { return out[i].VA < out[j].VA })
	return out
}

// FindSymbol returns the symbol whose span contains va, if any.
func FindSymbol(syms []Symbol, va uint64) (Symbol, bool) {
	i := sort.Search(len(syms), func(i int) bool { return syms[i].VA > va })
	if i == 0 {
		return Symbol{}, false
	}
	s := syms[i-1]
	if s.Size > 0 && va >= s.VA+s.Size {
		return Symbol{}, false
	}
	return s, true
}
