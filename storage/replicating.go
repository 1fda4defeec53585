package storage

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// NamedCAS associates a CAS with a stable backend name used in receipts and
// errors.
type NamedCAS struct {
	Name string
	CAS  CAS
}

// ReplicatingCAS writes every object to all backends and reads from the first
// backend that has it.
type ReplicatingCAS struct {
	Backends []NamedCAS
}

var _ CAS = ReplicatingCAS{}

// PutAll writes data to every backend and returns the canonical CID with the
// per-backend results. A backend returning a different CID fails with
// ErrCIDMismatch; the map still holds what was written so far.
func (r ReplicatingCAS) PutAll(ctx context.Context, data []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := CID(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, ErrNoBackends
	}

	out := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, out, &BackendError{Backend: b.Name, Op: "put", Err: errors.New("nil CAS")}
		}
		got, err := b.CAS.Put(ctx, data)
		if err != nil {
			return cid.Undef, out, &BackendError{Backend: b.Name, Op: "put", Err: err}
		}
		out[b.Name] = got
		if !got.Equals(want) {
			return cid.Undef, out, &BackendError{Backend: b.Name, Op: "put", Err: ErrCIDMismatch}
		}
	}
	return want, out, nil
}

func (r ReplicatingCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

func (r ReplicatingCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	for _, b := range r.Backends {
		if b.CAS == nil {
			continue
		}
		out, err := b.CAS.Get(ctx, id)
		if err == nil {
			return out, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, &BackendError{Backend: b.Name, Op: "get", Err: err}
	}
	return nil, ErrNotFound
}

func (r ReplicatingCAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	var firstErr error
	for _, b := range r.Backends {
		if b.CAS == nil {
			continue
		}
		ok, err := b.CAS.Has(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = &BackendError{Backend: b.Name, Op: "has", Err: err}
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}
