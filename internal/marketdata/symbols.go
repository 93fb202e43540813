package marketdata

import "github.com/nexustrade/tradingcore/internal/model"

// SymbolTable is the per-venue symbol normalization lookup the Open
// Question in spec.md §9 resolves as a loaded lookup table rather than
// a coded-per-venue function: "BTC/USD -> XBT/USD for one venue,
// BTC/USDT for another" (spec.md §4.4).
type SymbolTable struct {
	// venueSymbol[exchange][corePair] = venue-native symbol string.
	venueSymbol map[string]map[model.Pair]string
	// reverse[exchange][venueSymbol] = corePair.
	reverse map[string]map[string]model.Pair
}

// NewSymbolTable builds a table from a raw mapping, typically loaded
// from config at startup.
func NewSymbolTable(raw map[string]map[model.Pair]string) *SymbolTable {
	t := &SymbolTable{
		venueSymbol: make(map[string]map[model.Pair]string),
		reverse:     make(map[string]map[string]model.Pair),
	}
	for exchange, pairs := range raw {
		t.venueSymbol[exchange] = make(map[model.Pair]string, len(pairs))
		t.reverse[exchange] = make(map[string]model.Pair, len(pairs))
		for pair, sym := range pairs {
			t.venueSymbol[exchange][pair] = sym
			t.reverse[exchange][sym] = pair
		}
	}
	return t
}

// ToVenue returns the venue-native symbol for pair on exchange, falling
// back to pair's own string form when no override is configured.
func (t *SymbolTable) ToVenue(exchange string, pair model.Pair) string {
	if m, ok := t.venueSymbol[exchange]; ok {
		if sym, ok := m[pair]; ok {
			return sym
		}
	}
	return string(pair)
}

// FromVenue normalizes a venue-native symbol back to the core Pair
// form, falling back to treating it as already-normalized.
func (t *SymbolTable) FromVenue(exchange, sym string) model.Pair {
	if m, ok := t.reverse[exchange]; ok {
		if pair, ok := m[sym]; ok {
			return pair
		}
	}
	pair, err := model.NormalizePair(sym)
	if err != nil {
		return model.Pair(sym)
	}
	return pair
}
