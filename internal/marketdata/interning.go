// Symbol interning: maps string symbols to dense uint32 IDs so the hot path
// never hashes or compares strings.

package marketdata

import (
	"sync"
)

type SymbolTable struct {
	symbols map[string]uint32
	ids     []string
	mu      sync.RWMutex
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		symbols: make(map[string]uint32),
		ids:     make([]string, 0, 128),
	}
}

// Register returns the ID for symbol, assigning the next dense ID if new.
func (st *SymbolTable) Register(symbol string) uint32 {
	st.mu.RLock()
	id, ok := st.symbols[symbol]
	st.mu.RUnlock()
	if ok {
		return id
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if id, ok = st.symbols[symbol]; ok {
		return id
	}
	id = uint32(len(st.ids))
	st.symbols[symbol] = id
	st.ids = append(st.ids, symbol)
	return id
}

// Lookup returns the ID for a symbol without registering it.
func (st *SymbolTable) Lookup(symbol string) (uint32, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.symbols[symbol]
	return id, ok
}

// Symbol returns the string for an ID, or "" if the ID was never assigned.
func (st *SymbolTable) Symbol(id uint32) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if int(id) < len(st.ids) {
		return st.ids[id]
	}
	return ""
}

// Len returns the number of registered symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.ids)
}
