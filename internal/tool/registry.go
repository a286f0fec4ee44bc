package tool

import "sort"

// Registry maps tool names to implementations. Registries are built once
// at startup and then only read.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	name := t.Info().Name
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Infos returns tool descriptions in registration order.
func (r *Registry) Infos() []Info {
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Info())
	}
	return out
}

func (r *Registry) Len() int { return len(r.tools) }

// Subset returns a registry holding only the allowed tools that exist here.
// Anything else is simply absent for whoever receives the subset.
func (r *Registry) Subset(allow []string) *Registry {
	want := make(map[string]bool, len(allow))
	for _, n := range allow {
		want[n] = true
	}
	sub := NewRegistry()
	for _, name := range r.order {
		if want[name] {
			sub.Register(r.tools[name])
		}
	}
	return sub
}

// Without returns a registry holding every tool except the excluded ones.
func (r *Registry) Without(exclude ...string) *Registry {
	skip := make(map[string]bool, len(exclude))
	for _, n := range exclude {
		skip[n] = true
	}
	sub := NewRegistry()
	for _, name := range r.order {
		if !skip[name] {
			sub.Register(r.tools[name])
		}
	}
	return sub
}

// SortedNames is Names in lexical order, for display.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}
