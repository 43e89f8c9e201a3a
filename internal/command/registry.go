package command

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Registration is the static metadata and handler for one command. Alias map
// entries share one *Registration, so an alias resolves to the same handler
// identity as its canonical name.
type Registration struct {
	Name        string
	Description string
	Handler     HandlerFunc
	Aliases     []string
	// AllowedChatTypes restricts where the command may run. Empty means all.
	AllowedChatTypes []ChatType
	RequiresAdmin    bool
}

// AllowsChatType reports whether the command may run in the given chat type.
func (r *Registration) AllowsChatType(t ChatType) bool {
	if len(r.AllowedChatTypes) == 0 {
		return true
	}
	return slices.Contains(r.AllowedChatTypes, t)
}

// Registry maps command names and aliases to registrations. Lookups are
// case-insensitive and tolerate a leading slash.
type Registry struct {
	entries map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Registration)}
}

// normalizeName lowercases and strips a leading slash.
func normalizeName(name string) string {
	return strings.TrimPrefix(strings.ToLower(name), "/")
}

// Register adds a command. Name and handler are required. The name and every
// alias become map entries pointing at the same registration; re-registering
// a name overwrites the prior entry.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return errors.New("command: registration requires a name")
	}
	if reg.Handler == nil {
		return fmt.Errorf("command: registration %q requires a handler", reg.Name)
	}

	reg.Name = normalizeName(reg.Name)
	for i, alias := range reg.Aliases {
		reg.Aliases[i] = normalizeName(alias)
	}

	entry := &reg
	r.entries[reg.Name] = entry
	for _, alias := range reg.Aliases {
		r.entries[alias] = entry
	}
	return nil
}

// Lookup resolves a command token to its registration.
func (r *Registry) Lookup(name string) (*Registration, bool) {
	reg, ok := r.entries[normalizeName(name)]
	return reg, ok
}

// IsRegistered reports whether a name or alias is registered.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// List returns all registrations de-duplicated by canonical name, sorted.
func (r *Registry) List() []*Registration {
	seen := make(map[string]struct{}, len(r.entries))
	var regs []*Registration
	for _, reg := range r.entries {
		if _, dup := seen[reg.Name]; dup {
			continue
		}
		seen[reg.Name] = struct{}{}
		regs = append(regs, reg)
	}
	slices.SortFunc(regs, func(a, b *Registration) int {
		return strings.Compare(a.Name, b.Name)
	})
	return regs
}
