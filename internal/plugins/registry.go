package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/beaconctl/internal/protocol"
)

var (
	ErrNotRegistered = errors.New("plugins: not registered")
	ErrDuplicate     = errors.New("plugins: already registered")
)

// Registry maps names to plugin values of any binding.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]any
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]any{}}
}

func (r *Registry) Register(name string, p any) error {
	name = strings.TrimSpace(name)
	if name == "" || p == nil {
		return fmt.Errorf("plugins: name and plugin required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.entries[name] = p
	return nil
}

func (r *Registry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.entries[strings.TrimSpace(name)]
	return p, ok
}

// Names returns registered names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve binds a registered plugin to the caller's message types.
// A binding registered with different message types fails with protocol.ErrTypeMismatch.
func Resolve[M, S any](r *Registry, name string) (Plugin[M, S], error) {
	v, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s (have %s)", ErrNotRegistered, name, strings.Join(r.Names(), ","))
	}
	p, err := protocol.Recover[Plugin[M, S]](v)
	if err != nil {
		return nil, fmt.Errorf("plugins: resolve %s: %w", name, err)
	}
	return p, nil
}
