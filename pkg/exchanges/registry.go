package exchanges

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

var (
	factories = make(map[Protocol]Factory)
	mu        sync.RWMutex
)

// Register adds a factory for protocol. Protocol packages call it from init.
func Register(protocol Protocol, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[protocol] = factory
}

// Protocols returns all registered protocol names
func Protocols() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Create builds a single adapter from spec.
func Create(spec Spec, logger *logging.Logger) (Adapter, error) {
	mu.RLock()
	factory, ok := factories[spec.Protocol]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, spec.Protocol)
	}
	if spec.ID == 0 {
		return nil, fmt.Errorf("%w: exchange %q has no id", ErrInvalidConfig, spec.Name)
	}

	config := spec.Config
	if config == nil {
		config = make(map[string]interface{})
	}
	return factory(NewBaseAdapter(spec, logger), config)
}

// Entry is one registry slot.
type Entry struct {
	ID       pricing.ExchangeID
	Priority int
	Adapter  Adapter
}

// Info describes an exchange for the read API.
type Info struct {
	ID       pricing.ExchangeID  `json:"id"`
	Name     string              `json:"name"`
	Protocol Protocol            `json:"protocol"`
	Chain    string              `json:"chain"`
	Priority int                 `json:"priority"`
	Pairs    []pricing.TokenPair `json:"pairs"`
	Healthy  bool                `json:"healthy"`
}

// Registry is the fixed, ordered set of adapters. It is immutable after construction.
type Registry struct {
	entries []Entry
	byID    map[pricing.ExchangeID]Adapter
}

// NewRegistry orders entries by priority (lower first), then by id.
func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		byID:    make(map[pricing.ExchangeID]Adapter, len(entries)),
	}
	for _, e := range entries {
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateExchange, e.ID)
		}
		r.byID[e.ID] = e.Adapter
		r.entries = append(r.entries, e)
	}

	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].Priority != r.entries[j].Priority {
			return r.entries[i].Priority < r.entries[j].Priority
		}
		return r.entries[i].ID < r.entries[j].ID
	})
	return r, nil
}

// Build creates every enabled adapter in specs. An adapter that fails to build
// is logged and skipped; Build fails only when none could be built.
func Build(specs []Spec, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	entries := make([]Entry, 0, len(specs))
	seen := make(map[pricing.ExchangeID]string, len(specs))
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if prev, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("%w: %d used by %s and %s", ErrDuplicateExchange, spec.ID, prev, spec.Name)
		}
		seen[spec.ID] = spec.Name

		adapter, err := Create(spec, logger)
		if err != nil {
			logger.Warn("Failed to create exchange adapter", "exchange", spec.Name, "protocol", spec.Protocol, "error", err)
			continue
		}
		entries = append(entries, Entry{ID: spec.ID, Priority: spec.Priority, Adapter: adapter})
		logger.Info("Exchange adapter ready",
			"exchange", spec.Name, "id", spec.ID, "protocol", spec.Protocol,
			"chain", spec.Chain, "priority", spec.Priority, "pairs", adapter.Pairs())
	}

	if len(entries) == 0 {
		return nil, ErrNoExchanges
	}
	return NewRegistry(entries)
}

// All returns the adapters in selection order. The slice is a copy.
func (r *Registry) All() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ByID returns the adapter for id.
func (r *Registry) ByID(id pricing.ExchangeID) (Adapter, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrExchangeNotFound, id)
	}
	return a, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id pricing.ExchangeID) bool {
	_, ok := r.byID[id]
	return ok
}

// Len returns the number of adapters
func (r *Registry) Len() int {
	return len(r.entries)
}

// Describe returns exchange metadata in selection order.
func (r *Registry) Describe() []Info {
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		info := Info{
			ID:       e.ID,
			Name:     e.Adapter.Name(),
			Protocol: e.Adapter.Protocol(),
			Chain:    e.Adapter.Chain(),
			Priority: e.Priority,
			Pairs:    e.Adapter.Pairs(),
		}
		if h, ok := e.Adapter.(interface{ IsHealthy() bool }); ok {
			info.Healthy = h.IsHealthy()
		}
		out = append(out, info)
	}
	return out
}

// Close closes every adapter.
func (r *Registry) Close() error {
	var errs []error
	for _, e := range r.entries {
		if err := e.Adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("exchange %d: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}
