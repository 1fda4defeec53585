// Package storage archives run artifacts in content-addressed stores.
package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// CAS is a content-addressable store keyed by CIDv1 (raw codec, sha2-256).
//
// Contract:
// - Put is idempotent and returns the CID of the bytes written.
// - Stored objects are immutable.
// - Get returns ErrNotFound when the CID is absent and ErrCIDMismatch when
//   the stored bytes no longer hash to it.
type CAS interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
}
