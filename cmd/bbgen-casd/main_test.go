package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"xdao.co/bbgen/storage/grpccas"
	"xdao.co/bbgen/storage/testkit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestListBackends(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"--list-backends"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "localfs\t")
	assert.NotContains(t, out.String(), "grpc\t")
}

func TestUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"extra"}, &out, &errOut))
	assert.Equal(t, 2, run([]string{"--no-such-flag"}, &out, &errOut))
	assert.Equal(t, 2, run([]string{"--backend", "grpc"}, &out, &errOut))
	assert.Equal(t, 2, run([]string{"--backend", "localfs"}, &out, &errOut), "localfs needs --localfs-dir")
}

func TestServe_GracefulStop(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	mem := testkit.NewMemory()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, lis, mem, zap.NewNop()) }()

	client, err := grpccas.Dial(lis.Addr().String(), grpccas.DialOptions{Timeout: time.Second})
	require.NoError(t, err)
	client.Timeout = 2 * time.Second

	id, err := client.Put(context.Background(), []byte("archived dataset"))
	require.NoError(t, err)
	ok, err := mem.Has(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, client.Close())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
