package casregistry

import (
	"context"
	"errors"
	"fmt"

	"xdao.co/bbgen/storage"
)

// Spec selects one backend for OpenAll.
type Spec struct {
	// Name is the registered backend name.
	Name string
	// ID names the backend in receipts; defaults to Name.
	ID       string
	Settings Settings
}

func (s Spec) key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Name
}

// OpenAll opens every spec, in order, behind one ReplicatingCAS. On failure
// the backends opened so far are closed. The returned close function closes
// all backends in reverse order.
func OpenAll(ctx context.Context, usage Usage, specs []Spec) (storage.ReplicatingCAS, func() error, error) {
	if len(specs) == 0 {
		return storage.ReplicatingCAS{}, nil, storage.ErrNoBackends
	}

	var (
		named   []storage.NamedCAS
		closers []func() error
		seen    = make(map[string]struct{}, len(specs))
	)
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	for _, s := range specs {
		if _, dup := seen[s.key()]; dup {
			_ = closeAll()
			return storage.ReplicatingCAS{}, nil, fmt.Errorf("casregistry: duplicate backend id %q", s.key())
		}
		seen[s.key()] = struct{}{}

		cas, closeFn, err := Open(ctx, s.Name, usage, s.Settings)
		if err != nil {
			_ = closeAll()
			return storage.ReplicatingCAS{}, nil, &storage.BackendError{Backend: s.key(), Op: "open", Err: err}
		}
		named = append(named, storage.NamedCAS{Name: s.key(), CAS: cas})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}
	return storage.ReplicatingCAS{Backends: named}, closeAll, nil
}
