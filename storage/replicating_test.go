package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/bbgen/storage"
	"xdao.co/bbgen/storage/testkit"
)

// skewedCAS stores under a CID that does not match the bytes.
type skewedCAS struct{ *testkit.Memory }

func (s skewedCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	return s.Memory.Put(ctx, append([]byte("x"), data...))
}

func TestReplicatingCAS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.ReplicatingCAS{Backends: []storage.NamedCAS{
			{Name: "a", CAS: testkit.NewMemory()},
			{Name: "b", CAS: testkit.NewMemory()},
		}}
	})
}

func TestReplicatingCAS_PutAllWritesEveryBackend(t *testing.T) {
	ctx := context.Background()
	a, b := testkit.NewMemory(), testkit.NewMemory()
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{{Name: "a", CAS: a}, {Name: "b", CAS: b}}}

	id, per, err := r.PutAll(ctx, []byte("dataset"))
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if len(per) != 2 || !per["a"].Equals(id) || !per["b"].Equals(id) {
		t.Fatalf("unexpected per-backend CIDs: %v", per)
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Fatalf("expected one object per backend")
	}
}

func TestReplicatingCAS_MismatchNamesBackend(t *testing.T) {
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{
		{Name: "good", CAS: testkit.NewMemory()},
		{Name: "skewed", CAS: skewedCAS{testkit.NewMemory()}},
	}}
	_, per, err := r.PutAll(context.Background(), []byte("dataset"))
	if !errors.Is(err, storage.ErrCIDMismatch) {
		t.Fatalf("got %v want ErrCIDMismatch", err)
	}
	var be *storage.BackendError
	if !errors.As(err, &be) || be.Backend != "skewed" {
		t.Fatalf("error not attributed to skewed backend: %v", err)
	}
	if _, ok := per["good"]; !ok {
		t.Fatalf("expected the good backend's CID in the partial result")
	}
}

func TestReplicatingCAS_PutFailure(t *testing.T) {
	failing := testkit.NewMemory()
	failing.FailPut = errors.New("disk full")
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{{Name: "f", CAS: failing}}}
	if _, err := r.Put(context.Background(), []byte("x")); err == nil || err.Error() != "storage: f put: disk full" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReplicatingCAS_NoBackends(t *testing.T) {
	if _, err := (storage.ReplicatingCAS{}).Put(context.Background(), []byte("x")); !errors.Is(err, storage.ErrNoBackends) {
		t.Fatalf("got %v want ErrNoBackends", err)
	}
}

func TestReplicatingCAS_GetFallsBack(t *testing.T) {
	ctx := context.Background()
	second := testkit.NewMemory()
	id, err := second.Put(ctx, []byte("only here"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{{Name: "a", CAS: testkit.NewMemory()}, {Name: "b", CAS: second}}}
	got, err := r.Get(ctx, id)
	if err != nil || string(got) != "only here" {
		t.Fatalf("Get: %q, %v", got, err)
	}
	if ok, err := r.Has(ctx, id); err != nil || !ok {
		t.Fatalf("Has: %v, %v", ok, err)
	}
}

func TestParseAndVerifyCID(t *testing.T) {
	id, err := storage.CID([]byte("abc"))
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	back, err := storage.ParseCID(id.String())
	if err != nil || !back.Equals(id) {
		t.Fatalf("ParseCID: %v, %v", back, err)
	}
	if _, err := storage.ParseCID("not-a-cid"); !errors.Is(err, storage.ErrInvalidCID) {
		t.Fatalf("ParseCID garbage: %v", err)
	}
	if err := storage.VerifyCID(id, []byte("abd")); !errors.Is(err, storage.ErrCIDMismatch) {
		t.Fatalf("VerifyCID: %v", err)
	}
}
