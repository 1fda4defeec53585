package casregistry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/pflag"

	"xdao.co/bbgen/storage"
)

// Backend is a build-time plugin that can open a storage.CAS implementation.
//
// Backends typically register themselves in init():
//
//	casregistry.MustRegister(casregistry.Backend{ ... })
//
// The binary must import the backend package for registration to occur.
type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// Settings lists the keys Open reads. Each is also exposed as a --<key>
	// flag by RegisterFlags.
	Settings []Setting

	// Open constructs the CAS. It returns an optional close function.
	Open func(ctx context.Context, s Settings) (storage.CAS, func() error, error)
}

// Setting documents one backend option.
type Setting struct {
	Key     string
	Default string
	Help    string
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("casregistry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("casregistry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("casregistry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("casregistry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// RegisterFlags adds a string flag for every setting of every backend
// matching usage. Settings shared by name across backends are registered once.
func RegisterFlags(fs *pflag.FlagSet, usage Usage) {
	for _, b := range List(usage) {
		for _, s := range b.Settings {
			if fs.Lookup(s.Key) != nil {
				continue
			}
			fs.String(s.Key, s.Default, s.Help)
		}
	}
}

// FlagSettings returns the backend settings explicitly set on fs.
func FlagSettings(fs *pflag.FlagSet, usage Usage) Settings {
	out := Settings{}
	for _, b := range List(usage) {
		for _, s := range b.Settings {
			f := fs.Lookup(s.Key)
			if f != nil && f.Changed {
				out[s.Key] = f.Value.String()
			}
		}
	}
	return out
}

// Open opens the named backend if it exists and matches usage. Missing
// settings take the backend's defaults.
func Open(ctx context.Context, name string, usage Usage, s Settings) (storage.CAS, func() error, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return nil, nil, fmt.Errorf("backend %q not supported in this binary", name)
	}
	return b.Open(ctx, s.withDefaults(b.Settings))
}
