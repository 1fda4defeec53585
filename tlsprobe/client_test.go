package tlsprobe

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"errors"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"xdao.co/bbgen/pkcs1"
	"xdao.co/bbgen/trial"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	certOnce sync.Once
	testCert tls.Certificate
	testKey  *rsa.PrivateKey
)

func serverCert(t *testing.T) (tls.Certificate, *rsa.PrivateKey) {
	t.Helper()
	certOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(1),
			Subject:      pkix.Name{CommonName: "bbgen test"},
			DNSNames:     []string{"localhost"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
			KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
		if err != nil {
			panic(err)
		}
		testCert = tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
		testKey = key
	})
	return testCert, testKey
}

// startServer runs a crypto/tls server that performs one handshake per
// connection.
func startServer(t *testing.T, mutate func(*tls.Config)) string {
	t.Helper()
	cert, _ := serverCert(t)
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		CipherSuites: []uint16{tls.TLS_RSA_WITH_AES_128_GCM_SHA256},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
	}
	if mutate != nil {
		mutate(cfg)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
				srv := tls.Server(conn, cfg)
				_ = srv.Handshake()
			}()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})
	return ln.Addr().String()
}

// recordingConn keeps everything the client wrote.
type recordingConn struct {
	net.Conn
	mu      sync.Mutex
	written bytes.Buffer
}

func (c *recordingConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	c.written.Write(b)
	c.mu.Unlock()
	return c.Conn.Write(b)
}

func (c *recordingConn) recordTypes(t *testing.T) []recordType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []recordType
	b := c.written.Bytes()
	for len(b) > 0 {
		require.GreaterOrEqual(t, len(b), recordHeaderLen)
		n := int(binary.BigEndian.Uint16(b[3:5]))
		types = append(types, recordType(b[0]))
		b = b[recordHeaderLen+n:]
	}
	return types
}

func newTestClient(t *testing.T, cfg Config) (*Client, *recordingConn) {
	t.Helper()
	rc := &recordingConn{}
	var d net.Dialer
	cfg.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		rc.Conn = conn
		return rc, nil
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	return c, rc
}

func vector(t *testing.T, version uint16, name string) pkcs1.Vector {
	t.Helper()
	_, key := serverCert(t)
	vs, err := pkcs1.Generate(&key.PublicKey, pkcs1.ProfileFast, version)
	require.NoError(t, err)
	for _, v := range vs {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("no vector %q", name)
	return pkcs1.Vector{}
}

func probe(v pkcs1.Vector, shape trial.Shape) trial.Probe {
	var corr [trial.CorrelationSize]byte
	_, _ = rand.Read(corr[:])
	return trial.Probe{
		Correlation: corr,
		Label:       v.Name,
		Ciphertext:  v.Ciphertext,
		Premaster:   v.Premaster(),
		Shape:       shape,
	}
}

func TestFetchPublicKey(t *testing.T) {
	addr := startServer(t, nil)
	c, _ := newTestClient(t, Config{Target: addr})

	pub, err := c.FetchPublicKey(context.Background())
	require.NoError(t, err)
	_, key := serverCert(t)
	rsaPub, ok := pub.(*rsa.PublicKey)
	require.True(t, ok)
	assert.True(t, key.PublicKey.Equal(rsaPub))
}

func TestFetchPublicKey_NoCommonSuite(t *testing.T) {
	addr := startServer(t, nil)
	c, _ := newTestClient(t, Config{Target: addr, CipherSuites: []uint16{0x0035}})

	_, err := c.FetchPublicKey(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, addr, fe.Target)
	var ae *AlertError
	require.True(t, errors.As(err, &ae), "got %v", err)
	assert.Equal(t, "handshake_failure", ae.Alert.String())
}

func TestFetchPublicKey_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, err := NewClient(Config{Target: addr}, nil)
	require.NoError(t, err)
	_, err = c.FetchPublicKey(context.Background())
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestRun_TruncatedShapeSendsOnlyKeyExchange(t *testing.T) {
	addr := startServer(t, nil)
	c, rc := newTestClient(t, Config{Target: addr, Timeout: 200 * time.Millisecond})

	o := c.Run(context.Background(), probe(vector(t, VersionTLS12, pkcs1.NameCorrect), trial.ShapeTruncated))
	require.NoError(t, o.Err)
	assert.Equal(t, []recordType{recordHandshake, recordHandshake}, rc.recordTypes(t))
	assert.Equal(t, []string{"ClientKeyExchange"}, o.Sent)
	// The server waits for ChangeCipherSpec.
	assert.True(t, o.TimedOut)
	assert.Equal(t, VersionTLS12, o.Version)
	assert.Equal(t, tls.TLS_RSA_WITH_AES_128_GCM_SHA256, o.CipherSuite)
}

func TestRun_FullShapeCorrectVectorCompletes(t *testing.T) {
	addr := startServer(t, nil)
	c, rc := newTestClient(t, Config{Target: addr})

	o := c.Run(context.Background(), probe(vector(t, VersionTLS12, pkcs1.NameCorrect), trial.ShapeFull))
	require.NoError(t, o.Err)
	assert.Equal(t, []recordType{recordHandshake, recordHandshake, recordChangeCipherSpec, recordHandshake}, rc.recordTypes(t))
	assert.Equal(t, []string{"ClientKeyExchange", "ChangeCipherSpec", "Finished"}, o.Sent)
	assert.Nil(t, o.Alert)
	assert.Equal(t, []string{"ChangeCipherSpec", "Handshake"}, o.Responses)
}

func TestRun_FullShapeMalformedVectorAlerts(t *testing.T) {
	addr := startServer(t, nil)
	c, _ := newTestClient(t, Config{Target: addr})

	o := c.Run(context.Background(), probe(vector(t, VersionTLS12, pkcs1.NameWrongFirstByte), trial.ShapeFull))
	require.NoError(t, o.Err)
	require.NotNil(t, o.Alert)
	assert.True(t, o.Alert.Fatal())
	assert.Equal(t, "bad_record_mac", o.Alert.String())
}

func TestRun_CBCSuites(t *testing.T) {
	for _, tc := range []struct {
		name    string
		version uint16
		suite   uint16
	}{
		{"tls12-sha", VersionTLS12, tls.TLS_RSA_WITH_AES_128_CBC_SHA},
		{"tls12-sha256", VersionTLS12, tls.TLS_RSA_WITH_AES_128_CBC_SHA256},
		{"tls11", VersionTLS11, tls.TLS_RSA_WITH_AES_256_CBC_SHA},
		{"tls10", VersionTLS10, tls.TLS_RSA_WITH_AES_128_CBC_SHA},
	} {
		t.Run(tc.name, func(t *testing.T) {
			addr := startServer(t, func(cfg *tls.Config) {
				cfg.CipherSuites = []uint16{tc.suite}
				cfg.MinVersion = tc.version
				cfg.MaxVersion = tc.version
			})
			c, _ := newTestClient(t, Config{Target: addr, Version: tc.version, CipherSuites: []uint16{tc.suite}})

			o := c.Run(context.Background(), probe(vector(t, tc.version, pkcs1.NameCorrect), trial.ShapeFull))
			require.NoError(t, o.Err)
			assert.Equal(t, tc.suite, o.CipherSuite)
			assert.Nil(t, o.Alert)
			assert.Equal(t, []string{"ChangeCipherSpec", "Handshake"}, o.Responses)
		})
	}
}

func TestRun_ClientAuthSendsEmptyCertificate(t *testing.T) {
	addr := startServer(t, func(cfg *tls.Config) { cfg.ClientAuth = tls.RequestClientCert })
	c, rc := newTestClient(t, Config{Target: addr, ClientAuth: true, Timeout: 200 * time.Millisecond})

	o := c.Run(context.Background(), probe(vector(t, VersionTLS12, pkcs1.NameCorrect), trial.ShapeTruncated))
	require.NoError(t, o.Err)
	assert.True(t, o.CertificateRequested)
	assert.Equal(t, []string{"Certificate", "ClientKeyExchange"}, o.Sent)
	assert.Equal(t, []recordType{recordHandshake, recordHandshake, recordHandshake}, rc.recordTypes(t))
}

func TestRun_ServerSilentTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = ln.Close()
		wg.Wait()
	}()

	c, err := NewClient(Config{Target: ln.Addr().String(), Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	o := c.Run(context.Background(), trial.Probe{Ciphertext: []byte{1}})
	assert.True(t, o.TimedOut)
	assert.Empty(t, o.Sent)
}

func TestExecute_NeverPanicsOnDialFailure(t *testing.T) {
	c, err := NewClient(Config{
		Target: "127.0.0.1:1",
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("refused")
		},
	}, nil)
	require.NoError(t, err)
	c.Execute(context.Background(), trial.Probe{})
	o := c.Run(context.Background(), trial.Probe{})
	assert.EqualError(t, o.Err, "refused")
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoTarget)

	_, err = NewClient(Config{Target: "x:1", Version: VersionTLS10, CipherSuites: []uint16{0x009c}}, nil)
	assert.ErrorIs(t, err, ErrNoCipherSuites)

	_, err = NewClient(Config{Target: "x:1", Version: 0x0300}, nil)
	assert.Error(t, err)

	c, err := NewClient(Config{Target: "example.org:443"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "example.org", c.cfg.ServerName)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
}

func TestClientHello_Extensions(t *testing.T) {
	ch := &clientHello{version: VersionTLS12, random: make([]byte, 32), cipherSuites: []uint16{0x002f}, serverName: "example.org"}
	b, err := ch.marshal()
	require.NoError(t, err)
	assert.Equal(t, typeClientHello, b[0])
	assert.True(t, bytes.Contains(b, []byte("example.org")))
	assert.True(t, bytes.Contains(b, []byte{0xff, 0x01, 0x00, 0x01, 0x00}))

	ch.version, ch.serverName = VersionTLS10, ""
	b, err = ch.marshal()
	require.NoError(t, err)
	assert.False(t, bytes.Contains(b, []byte{0x00, 0x0d, 0x00}), "no signature_algorithms below TLS 1.2")
}

func TestHandshakeReader_Reassembles(t *testing.T) {
	msg, err := marshalFinished(bytes.Repeat([]byte{7}, 12))
	require.NoError(t, err)
	var h handshakeReader
	h.add(msg[:3])
	_, _, ok, err := h.next()
	require.NoError(t, err)
	assert.False(t, ok)
	h.add(msg[3:])
	typ, got, ok, err := h.next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, typeFinished, typ)
	assert.Equal(t, msg, got)
}

func TestHandshakeReader_RejectsOversizedLength(t *testing.T) {
	var h handshakeReader
	// ServerHello declaring 16 MiB - 1.
	h.add([]byte{typeServerHello, 0xff, 0xff, 0xff})
	_, _, ok, err := h.next()
	assert.False(t, ok)
	assert.ErrorIs(t, err, errMalformedMessage)

	// Certificate chains may exceed the generic limit.
	h = handshakeReader{}
	h.add([]byte{typeCertificate, 0x02, 0x00, 0x00})
	_, _, ok, err = h.next()
	require.NoError(t, err)
	assert.False(t, ok)

	h = handshakeReader{}
	h.add([]byte{typeCertificate, 0x04, 0x00, 0x01})
	_, _, _, err = h.next()
	assert.ErrorIs(t, err, errMalformedMessage)
}

func TestAlertString(t *testing.T) {
	assert.Equal(t, "bad_record_mac", Alert{Level: 2, Description: 20}.String())
	assert.Equal(t, "warning close_notify", Alert{Level: 1, Description: 0}.String())
	assert.Equal(t, "alert(200)", Alert{Level: 2, Description: 200}.String())
}
