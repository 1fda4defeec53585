// Package tlsprobe drives single TLS 1.0-1.2 RSA key-exchange handshakes with
// a caller-supplied ClientKeyExchange ciphertext and reports what the server
// sent back.
package tlsprobe

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"time"

	"go.uber.org/zap"

	"xdao.co/bbgen/trial"
)

const (
	DefaultTimeout     = 50 * time.Millisecond
	DefaultDialTimeout = 5 * time.Second

	// maxResponses bounds the quick receive after the client flight.
	maxResponses = 8
)

// Config describes the server and the ClientHello to offer.
type Config struct {
	// Target is host:port.
	Target string
	// ServerName is sent as SNI when SNI is set. Defaults to Target's host.
	ServerName string
	SNI        bool
	// ClientAuth answers a CertificateRequest with an empty Certificate.
	ClientAuth   bool
	Version      uint16
	CipherSuites []uint16
	// Timeout bounds each receive.
	Timeout     time.Duration
	DialTimeout time.Duration
	// Dial overrides the network dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Client runs handshakes against one server.
type Client struct {
	cfg    Config
	suites []uint16
	log    *zap.Logger
	rand   io.Reader
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.Target == "" {
		return nil, ErrNoTarget
	}
	if cfg.Version == 0 {
		cfg.Version = VersionTLS12
	}
	if cfg.Version < VersionTLS10 || cfg.Version > VersionTLS12 {
		return nil, fmt.Errorf("tlsprobe: unsupported protocol version %s", VersionName(cfg.Version))
	}
	suites := CipherSuitesFor(cfg.Version, cfg.CipherSuites)
	if len(suites) == 0 {
		return nil, ErrNoCipherSuites
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(cfg.Target); err == nil {
			cfg.ServerName = host
		}
	}
	if cfg.Dial == nil {
		d := &net.Dialer{Timeout: cfg.DialTimeout}
		cfg.Dial = d.DialContext
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, suites: suites, log: log, rand: rand.Reader}, nil
}

// Outcome is what one handshake observed.
type Outcome struct {
	Version              uint16
	CipherSuite          uint16
	CertificateRequested bool
	// Sent lists the client messages written after the hello exchange.
	Sent []string
	// Responses lists the records the server sent after the client flight.
	Responses []string
	Alert     *Alert
	Closed    bool
	TimedOut  bool
	Err       error
	Duration  time.Duration
}

func (o Outcome) fields() []zap.Field {
	fs := []zap.Field{
		zap.String("version", VersionName(o.Version)),
		zap.String("cipher_suite", CipherSuiteName(o.CipherSuite)),
		zap.Bool("certificate_requested", o.CertificateRequested),
		zap.Strings("sent", o.Sent),
		zap.Strings("responses", o.Responses),
		zap.Bool("closed", o.Closed),
		zap.Bool("timed_out", o.TimedOut),
		zap.Duration("duration", o.Duration),
	}
	if o.Alert != nil {
		fs = append(fs, zap.Stringer("alert", *o.Alert))
	}
	if o.Err != nil {
		fs = append(fs, zap.Error(o.Err))
	}
	return fs
}

// Execute runs p and logs the outcome. It satisfies trial.Executor.
func (c *Client) Execute(ctx context.Context, p trial.Probe) {
	o := c.Run(ctx, p)
	c.log.Debug("handshake",
		append([]zap.Field{zap.Int("trial", p.Trial), zap.String("vector", p.Label), zap.Stringer("workflow", p.Shape)}, o.fields()...)...)
}

// Run performs one handshake: hello exchange, the client flight for p.Shape,
// then a short receive.
func (c *Client) Run(ctx context.Context, p trial.Probe) (o Outcome) {
	start := time.Now()
	defer func() { o.Duration = time.Since(start) }()

	ex, err := c.hello(ctx, p.Correlation[:])
	if ex != nil {
		defer ex.close()
		o.Version, o.CertificateRequested = ex.version, ex.certRequested
		if ex.suite != nil {
			o.CipherSuite = ex.suite.id
		}
	}
	if err != nil {
		o.noteFailure(err)
		return o
	}

	flight, err := ex.clientFlight(p, c.cfg.ClientAuth, &o.Sent)
	if err != nil {
		o.Err = err
		return o
	}
	if err := ex.write(flight); err != nil {
		o.noteFailure(err)
		return o
	}
	ex.quickReceive(&o)
	return o
}

func (o *Outcome) noteFailure(err error) {
	var ae *AlertError
	switch {
	case errors.As(err, &ae):
		a := ae.Alert
		o.Alert = &a
	case isTimeout(err):
		o.TimedOut = true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		o.Closed = true
	default:
		o.Err = err
	}
}

// FetchPublicKey runs a hello exchange and returns the public key of the
// server's leaf certificate. Keys of any algorithm are returned.
func (c *Client) FetchPublicKey(ctx context.Context) (crypto.PublicKey, error) {
	var random [32]byte
	if _, err := io.ReadFull(c.rand, random[:]); err != nil {
		return nil, &FetchError{Target: c.cfg.Target, Err: err}
	}
	ex, err := c.hello(ctx, random[:])
	if ex != nil {
		defer ex.close()
	}
	if err != nil {
		return nil, &FetchError{Target: c.cfg.Target, Err: err}
	}
	if len(ex.certs) == 0 {
		return nil, &FetchError{Target: c.cfg.Target, Err: ErrNoCertificate}
	}
	leaf, err := x509.ParseCertificate(ex.certs[0])
	if err != nil {
		return nil, &FetchError{Target: c.cfg.Target, Err: err}
	}
	c.log.Info("fetched server certificate",
		zap.String("target", c.cfg.Target),
		zap.String("subject", leaf.Subject.String()),
		zap.String("key_algorithm", leaf.PublicKeyAlgorithm.String()),
		zap.String("cipher_suite", CipherSuiteName(ex.suite.id)),
		zap.String("version", VersionName(ex.version)))
	return leaf.PublicKey, nil
}

// exchange is the per-connection handshake state.
type exchange struct {
	c    *Client
	conn net.Conn
	stop func() bool

	hs         handshakeReader
	transcript []byte

	version       uint16
	clientRandom  []byte
	serverRandom  []byte
	suite         *cipherSuite
	certs         [][]byte
	certRequested bool
}

// hello dials, sends the ClientHello and reads the server flight through
// ServerHelloDone. A non-nil exchange must be closed even on error.
func (c *Client) hello(ctx context.Context, random []byte) (*exchange, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.cfg.Dial(dctx, "tcp", c.cfg.Target)
	cancel()
	if err != nil {
		return nil, err
	}
	ex := &exchange{c: c, conn: conn, version: c.cfg.Version, clientRandom: random}
	ex.stop = context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })

	ch := &clientHello{version: c.cfg.Version, random: random, cipherSuites: c.suites}
	if c.cfg.SNI && net.ParseIP(c.cfg.ServerName) == nil {
		ch.serverName = c.cfg.ServerName
	}
	msg, err := ch.marshal()
	if err != nil {
		return ex, err
	}
	ex.transcript = append(ex.transcript, msg...)
	// The initial record advertises TLS 1.0 for compatibility.
	if err := ex.write(appendRecord(nil, recordHandshake, VersionTLS10, msg)); err != nil {
		return ex, err
	}
	return ex, ex.readServerFlight()
}

func (ex *exchange) close() {
	ex.stop()
	_ = ex.conn.Close()
}

func (ex *exchange) write(b []byte) error {
	_ = ex.conn.SetWriteDeadline(time.Now().Add(ex.c.cfg.DialTimeout))
	_, err := ex.conn.Write(b)
	return err
}

func (ex *exchange) readServerFlight() error {
	typ, msg, err := ex.readHandshake()
	if err != nil {
		return err
	}
	if typ != typeServerHello {
		return fmt.Errorf("%w: type %d, want ServerHello", ErrUnexpectedMessage, typ)
	}
	sh, err := parseServerHello(msg[4:])
	if err != nil {
		return err
	}
	if sh.version < VersionTLS10 || sh.version > ex.c.cfg.Version {
		return fmt.Errorf("tlsprobe: server chose protocol version %s", VersionName(sh.version))
	}
	ex.version = sh.version
	if !slices.Contains(ex.c.suites, sh.cipherSuite) {
		return fmt.Errorf("%w: %s", ErrUnexpectedSuite, CipherSuiteName(sh.cipherSuite))
	}
	ex.suite = suiteByID(sh.cipherSuite)
	if ex.suite.tls12Only && ex.version < VersionTLS12 {
		return fmt.Errorf("%w: %s at %s", ErrUnexpectedSuite, ex.suite.name, VersionName(ex.version))
	}
	ex.serverRandom = sh.random

	for {
		typ, msg, err := ex.readHandshake()
		if err != nil {
			return err
		}
		switch typ {
		case typeCertificate:
			if ex.certs, err = parseCertificate(msg[4:]); err != nil {
				return err
			}
		case typeServerKeyExchange:
			return ErrNotRSAKeyExchange
		case typeCertificateRequest:
			ex.certRequested = true
		case typeServerHelloDone:
			return nil
		default:
			return fmt.Errorf("%w: type %d in server flight", ErrUnexpectedMessage, typ)
		}
	}
}

// readHandshake returns the next handshake message and adds it to the
// transcript.
func (ex *exchange) readHandshake() (uint8, []byte, error) {
	for {
		msgType, msg, ok, err := ex.hs.next()
		if err != nil {
			return 0, nil, err
		}
		if ok {
			ex.transcript = append(ex.transcript, msg...)
			return msgType, msg, nil
		}
		typ, body, err := ex.readRecord()
		if err != nil {
			return 0, nil, err
		}
		switch typ {
		case recordHandshake:
			ex.hs.add(body)
		case recordAlert:
			a, ok := parseAlert(body)
			if !ok {
				return 0, nil, fmt.Errorf("%w: alert", errMalformedMessage)
			}
			return 0, nil, &AlertError{Alert: a}
		default:
			return 0, nil, fmt.Errorf("%w: %s record during handshake", ErrUnexpectedMessage, typ)
		}
	}
}

func (ex *exchange) readRecord() (recordType, []byte, error) {
	_ = ex.conn.SetReadDeadline(time.Now().Add(ex.c.cfg.Timeout))
	typ, _, body, err := readRecord(ex.conn)
	return typ, body, err
}

// clientFlight builds the records sent after ServerHelloDone, all written at
// once.
func (ex *exchange) clientFlight(p trial.Probe, clientAuth bool, sent *[]string) ([]byte, error) {
	var out []byte
	if ex.certRequested && clientAuth {
		msg, err := marshalEmptyCertificate()
		if err != nil {
			return nil, err
		}
		ex.transcript = append(ex.transcript, msg...)
		out = appendRecord(out, recordHandshake, ex.version, msg)
		*sent = append(*sent, "Certificate")
	}

	cke, err := marshalClientKeyExchange(p.Ciphertext)
	if err != nil {
		return nil, err
	}
	ex.transcript = append(ex.transcript, cke...)
	out = appendRecord(out, recordHandshake, ex.version, cke)
	*sent = append(*sent, "ClientKeyExchange")

	if p.Shape.Truncated() {
		return out, nil
	}

	ks := newKeySchedule(ex.version, ex.suite)
	master := ks.masterSecret(p.Premaster, ex.clientRandom, ex.serverRandom)
	macKey, key, iv := ks.clientKeys(master, ex.clientRandom, ex.serverRandom)
	seal, err := newSealer(ex.version, ex.suite, macKey, key, iv)
	if err != nil {
		return nil, err
	}
	seal.random = ex.c.rand

	out = appendRecord(out, recordChangeCipherSpec, ex.version, []byte{1})
	*sent = append(*sent, "ChangeCipherSpec")

	fin, err := marshalFinished(ks.clientVerifyData(master, ex.transcript))
	if err != nil {
		return nil, err
	}
	if out, err = seal.appendSealed(out, recordHandshake, fin); err != nil {
		return nil, err
	}
	*sent = append(*sent, "Finished")
	return out, nil
}

// quickReceive collects the server's answer until an alert, a close, a
// timeout, or the server's own ChangeCipherSpec and Finished.
func (ex *exchange) quickReceive(o *Outcome) {
	sawCCS := false
	for len(o.Responses) < maxResponses {
		typ, body, err := ex.readRecord()
		if err != nil {
			o.noteFailure(err)
			return
		}
		switch typ {
		case recordAlert:
			a, ok := parseAlert(body)
			if !ok {
				// Encrypted alert after the server's ChangeCipherSpec.
				o.Responses = append(o.Responses, "EncryptedAlert")
				return
			}
			o.Alert = &a
			o.Responses = append(o.Responses, "Alert("+a.String()+")")
			return
		case recordChangeCipherSpec:
			sawCCS = true
			o.Responses = append(o.Responses, typ.String())
		case recordHandshake:
			o.Responses = append(o.Responses, typ.String())
			if sawCCS {
				return
			}
		default:
			o.Responses = append(o.Responses, typ.String())
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
