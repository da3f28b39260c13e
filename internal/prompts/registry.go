package prompts

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds prompts by key.
type Registry struct {
	mu      sync.RWMutex
	prompts map[string]Prompt
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{prompts: make(map[string]Prompt)}
}

// Register adds or replaces a prompt, filling in its hash and variables.
func (r *Registry) Register(p Prompt) {
	if p.Hash == "" {
		p.Hash = HashText(p.Text)
	}
	if p.Variables == nil {
		p.Variables = ExtractVariables(p.Text)
	}
	r.mu.Lock()
	r.prompts[p.Key] = p
	r.mu.Unlock()
}

// Get returns the prompt registered under key.
func (r *Registry) Get(key string) (Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prompts[key]
	if !ok {
		return Prompt{}, fmt.Errorf("prompt not found: %s", key)
	}
	return p, nil
}

// All returns every registered prompt ordered by key.
func (r *Registry) All() []Prompt {
	r.mu.RLock()
	out := make([]Prompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
