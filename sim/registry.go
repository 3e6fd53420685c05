package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownKey is wrapped by ConfigurationError when no factory is registered.
var ErrUnknownKey = errors.New("unknown key")

// ConfigurationError reports a setup entry that could not be built.
type ConfigurationError struct {
	Kind string // "behavior", "network", ...
	Key  string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configure %s %q: %v", e.Kind, e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Factory builds a value from validated parameters.
type Factory[T any] func(params Params) (T, error)

// Registry maps string keys to factories of one capability interface.
type Registry[T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// NewRegistry creates an empty registry; kind names the values in errors.
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:      kind,
		factories: make(map[string]Factory[T]),
	}
}

// Kind returns the kind of values the registry builds.
func (r *Registry[T]) Kind() string {
	return r.kind
}

// Register adds a factory under key. Registering a key twice is an error.
func (r *Registry[T]) Register(key string, f Factory[T]) error {
	if key == "" || f == nil {
		return fmt.Errorf("register %s: key and factory are required", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("register %s %q: already registered", r.kind, key)
	}
	r.factories[key] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry[T]) MustRegister(key string, f Factory[T]) {
	if err := r.Register(key, f); err != nil {
		panic(err)
	}
}

// Build looks up key and invokes its factory. Unknown keys and factory errors
// are returned as *ConfigurationError.
func (r *Registry[T]) Build(key string, params Params) (T, error) {
	var zero T

	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return zero, &ConfigurationError{Kind: r.kind, Key: key, Err: ErrUnknownKey}
	}

	v, err := f(params)
	if err != nil {
		return zero, &ConfigurationError{Kind: r.kind, Key: key, Err: err}
	}
	return v, nil
}

// Keys returns the registered keys in sorted order.
func (r *Registry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Params
// =============================================================================

// Params are the loosely typed parameters of a setup entry.
type Params map[string]any

// String returns the string at key, or def when absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q: want string, got %T", key, v)
	}
	return s, nil
}

// RequireString returns the non-empty string at key.
func (p Params) RequireString(key string) (string, error) {
	s, err := p.String(key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("param %q is required", key)
	}
	return s, nil
}

// Int returns the integer at key, or def when absent. Whole floats are
// accepted since JSON decodes every number as float64.
func (p Params) Int(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("param %q: %v is not an integer", key, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("param %q: want integer, got %T", key, v)
	}
}

// Time returns the non-negative tick count at key, or def when absent.
func (p Params) Time(key string, def Time) (Time, error) {
	n, err := p.Int(key, int64(def))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("param %q: %d must not be negative", key, n)
	}
	return Time(n), nil
}
