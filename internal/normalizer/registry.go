// Package normalizer maps source-specific raw records onto the canonical
// host record. Each source contributes one Mapper, registered by name in a
// Registry that is assembled once at startup.
package normalizer

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/host-inventory/internal/inventory"
)

// Supported source names.
const (
	SourceCrowdStrike = "crowdstrike"
	SourceQualys      = "qualys"
)

// Mapper converts one raw record into a host record. Mappers never fail:
// missing fields fall back to their defaults.
type Mapper func(inventory.RawRecord) inventory.HostRecord

// Registry resolves source names to mappers.
type Registry struct {
	mappers map[string]Mapper
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappers: make(map[string]Mapper)}
}

// DefaultRegistry returns a registry holding every built-in mapper.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SourceCrowdStrike, CrowdStrike)
	r.Register(SourceQualys, Qualys)
	return r
}

// Register adds a mapper. Registering a name twice is a programming error
// and panics.
func (r *Registry) Register(source string, m Mapper) {
	if source == "" || m == nil {
		panic("normalizer: register requires a source name and a mapper")
	}
	if _, exists := r.mappers[source]; exists {
		panic(fmt.Sprintf("normalizer: mapper for %q already registered", source))
	}
	r.mappers[source] = m
}

// Lookup returns the mapper for source.
func (r *Registry) Lookup(source string) (Mapper, bool) {
	m, ok := r.mappers[source]
	return m, ok
}

// Sources lists registered source names in sorted order.
func (r *Registry) Sources() []string {
	names := make([]string, 0, len(r.mappers))
	for name := range r.mappers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
