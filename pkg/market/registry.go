package market

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/perpgate/pkg/units"
)

// Registry holds markets and asset scales in a thread-safe manner.
// An asset's exponent cannot change once seen: conversions made earlier in
// the session would silently mean something else.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market     // id -> market
	assets  map[string]units.Asset // mint -> asset
}

// NewRegistry creates a registry seeded with DefaultAssets
func NewRegistry() *Registry {
	r := &Registry{
		markets: make(map[string]*Market),
		assets:  make(map[string]units.Asset),
	}
	for _, a := range DefaultAssets() {
		r.assets[a.Mint] = a
	}
	return r
}

// RegisterAsset adds an asset scale by mint
// Returns ErrExponentChanged if the mint is known with another exponent
func (r *Registry) RegisterAsset(a units.Asset) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerAssetLocked(a)
}

func (r *Registry) registerAssetLocked(a units.Asset) error {
	if a.Mint == "" {
		return nil
	}
	if prev, ok := r.assets[a.Mint]; ok && prev.Exponent != a.Exponent {
		return fmt.Errorf("%w: %s %d -> %d", ErrExponentChanged, a.Mint, prev.Exponent, a.Exponent)
	}
	r.assets[a.Mint] = a
	return nil
}

// Asset looks up an asset by mint
func (r *Registry) Asset(mint string) (units.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[mint]
	if !ok {
		return units.Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, mint)
	}
	return a, nil
}

// ResolveAsset picks the scale for a mint: reported decimals win, else the known asset
func (r *Registry) ResolveAsset(mint string, decimals uint8) (units.Asset, error) {
	if decimals > 0 {
		a := units.Asset{Mint: mint, Exponent: int32(decimals)}
		if known, err := r.Asset(mint); err == nil {
			a.Symbol = known.Symbol
		}
		return a, nil
	}
	return r.Asset(mint)
}

// Register adds or refreshes a market.
// Returns ErrExponentChanged if the market or either asset was seen with a different scale.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.markets[m.ID]; ok {
		if prev.Base.Exponent != m.Base.Exponent || prev.Quote.Exponent != m.Quote.Exponent {
			return fmt.Errorf("%w: market %s base %d/%d quote %d/%d", ErrExponentChanged, m.ID,
				prev.Base.Exponent, m.Base.Exponent, prev.Quote.Exponent, m.Quote.Exponent)
		}
	}
	if err := r.registerAssetLocked(m.Base); err != nil {
		return err
	}
	if err := r.registerAssetLocked(m.Quote); err != nil {
		return err
	}

	cp := *m
	r.markets[m.ID] = &cp
	return nil
}

// Get retrieves a market by id
func (r *Registry) Get(id string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	cp := *m
	return &cp, nil
}

// List returns all markets sorted by id
func (r *Registry) List() []*Market {
	r.mu.RLock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		cp := *m
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered markets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// File is the YAML layout of an assets file
//
//	assets:
//	  - {symbol: SOL, mint: So111..., exponent: 9}
//	markets:
//	  - id: 7f1c...
//	    name: SOL-PERP
//	    base: {symbol: SOL, mint: So111..., exponent: 9}
//	    quote: {symbol: USDC, mint: EPjF..., exponent: 6}
type File struct {
	Assets  []units.Asset `yaml:"assets"`
	Markets []Market      `yaml:"markets"`
}

// LoadFile seeds the registry from a YAML assets file
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read assets file: %w", err)
	}
	return r.Load(data)
}

// Load seeds the registry from YAML bytes
func (r *Registry) Load(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse assets file: %w", err)
	}
	for _, a := range f.Assets {
		if err := r.RegisterAsset(a); err != nil {
			return err
		}
	}
	for i := range f.Markets {
		if err := r.Register(&f.Markets[i]); err != nil {
			return err
		}
	}
	return nil
}
