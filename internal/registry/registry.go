// Package registry maps trusted type names onto entity variants.
//
// A caller-supplied type string is only ever looked up here. Names that are
// not registered fail closed with ErrUntrustedType; nothing is evaluated.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wallace-lab/wallace/internal/models"
)

// ErrUntrustedType is returned for any type name absent from the allow-list.
var ErrUntrustedType = errors.New("untrusted type")

// Variant is one constructible entity type.
type Variant struct {
	Name   string      `json:"name" yaml:"name"`
	Kind   models.Kind `json:"kind" yaml:"kind"`
	Parent string      `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// Registry is a static allow-list of variants, safe for concurrent reads.
type Registry struct {
	mu       sync.RWMutex
	variants map[models.Kind]map[string]Variant
}

// Built-in variants. Every kind has a base variant named after the kind.
var builtins = []Variant{
	{Name: "node", Kind: models.KindNode},
	{Name: "agent", Kind: models.KindNode, Parent: "node"},
	{Name: "source", Kind: models.KindNode, Parent: "node"},
	{Name: "random_binary_string_source", Kind: models.KindNode, Parent: "source"},
	{Name: "info", Kind: models.KindInfo},
	{Name: "vector", Kind: models.KindVector},
	{Name: "transmission", Kind: models.KindTransmission},
	{Name: "transformation", Kind: models.KindTransformation},
	{Name: "replication", Kind: models.KindTransformation, Parent: "transformation"},
	{Name: "mutation", Kind: models.KindTransformation, Parent: "transformation"},
}

// New returns a registry holding only the built-in variants.
func New() *Registry {
	r := &Registry{variants: make(map[models.Kind]map[string]Variant)}
	for _, v := range builtins {
		if err := r.Register(v); err != nil {
			panic(fmt.Sprintf("registry: builtin %q: %v", v.Name, err))
		}
	}
	return r
}

// Register adds a variant. The parent, when set, must already be registered
// for the same kind.
func (r *Registry) Register(v Variant) error {
	if v.Name == "" {
		return errors.New("variant name is empty")
	}
	if !v.Kind.Valid() {
		return fmt.Errorf("variant %q: unknown kind %q", v.Name, v.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName := r.variants[v.Kind]
	if byName == nil {
		byName = make(map[string]Variant)
		r.variants[v.Kind] = byName
	}
	if v.Parent != "" {
		if _, ok := byName[v.Parent]; !ok {
			return fmt.Errorf("variant %q: parent %q is not a registered %s type", v.Name, v.Parent, v.Kind)
		}
	}
	if existing, ok := byName[v.Name]; ok && existing != v {
		return fmt.Errorf("variant %q already registered with parent %q", v.Name, existing.Parent)
	}
	byName[v.Name] = v
	return nil
}

// Base returns the root variant for a kind.
func (r *Registry) Base(kind models.Kind) Variant {
	return Variant{Name: string(kind), Kind: kind}
}

// Resolve looks name up among the variants of kind. A name registered only
// under a different kind is still untrusted.
func (r *Registry) Resolve(kind models.Kind, name string) (Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.variants[kind][name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %s type %q", ErrUntrustedType, kind, name)
	}
	return v, nil
}

// Matching resolves name and returns its name plus the names of every
// registered descendant, sorted. Used for polymorphic type filters.
func (r *Registry) Matching(kind models.Kind, name string) ([]string, error) {
	if _, err := r.Resolve(kind, name); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := r.variants[kind]
	var out []string
	for candidate := range byName {
		if r.descends(byName, candidate, name) {
			out = append(out, candidate)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Registry) descends(byName map[string]Variant, name, ancestor string) bool {
	for name != "" {
		if name == ancestor {
			return true
		}
		name = byName[name].Parent
	}
	return false
}

// Names lists the registered names for kind, sorted.
func (r *Registry) Names(kind models.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.variants[kind]))
	for name := range r.variants[kind] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
