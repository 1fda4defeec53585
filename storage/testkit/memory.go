package testkit

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/bbgen/storage"
)

// Memory is an in-memory storage.CAS. FailPut, when set, is returned by Put.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	FailPut error
}

func NewMemory() *Memory { return &Memory{objects: map[string][]byte{}} }

func (m *Memory) Put(_ context.Context, data []byte) (cid.Cid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return cid.Undef, m.FailPut
	}
	id, err := storage.CID(data)
	if err != nil {
		return cid.Undef, err
	}
	m.objects[id.KeyString()] = append([]byte(nil), data...)
	return id, nil
}

func (m *Memory) Get(_ context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[id.KeyString()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Has(_ context.Context, id cid.Cid) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[id.KeyString()]
	return ok, nil
}

// Len is the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
