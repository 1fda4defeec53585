package tlsprobe

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

const (
	typeClientHello        uint8 = 1
	typeServerHello        uint8 = 2
	typeCertificate        uint8 = 11
	typeServerKeyExchange  uint8 = 12
	typeCertificateRequest uint8 = 13
	typeServerHelloDone    uint8 = 14
	typeClientKeyExchange  uint8 = 16
	typeFinished           uint8 = 20
)

const (
	extServerName          uint16 = 0
	extSignatureAlgorithms uint16 = 13
	extRenegotiationInfo   uint16 = 0xff01
)

// signatureAlgorithms advertised in a TLS 1.2 ClientHello.
var signatureAlgorithms = []uint16{
	0x0401, // rsa_pkcs1_sha256
	0x0501, // rsa_pkcs1_sha384
	0x0601, // rsa_pkcs1_sha512
	0x0804, // rsa_pss_rsae_sha256
	0x0805, // rsa_pss_rsae_sha384
	0x0201, // rsa_pkcs1_sha1
}

var errMalformedMessage = errors.New("tlsprobe: malformed handshake message")

type clientHello struct {
	version      uint16
	random       []byte
	cipherSuites []uint16
	serverName   string
}

func addHandshake(b *cryptobyte.Builder, typ uint8, body func(*cryptobyte.Builder)) {
	b.AddUint8(typ)
	b.AddUint24LengthPrefixed(body)
}

func (m *clientHello) marshal() ([]byte, error) {
	var b cryptobyte.Builder
	addHandshake(&b, typeClientHello, func(b *cryptobyte.Builder) {
		b.AddUint16(m.version)
		b.AddBytes(m.random)
		b.AddUint8LengthPrefixed(func(*cryptobyte.Builder) {}) // session id
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, id := range m.cipherSuites {
				b.AddUint16(id)
			}
		})
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint8(0) }) // null compression
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(extRenegotiationInfo)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8LengthPrefixed(func(*cryptobyte.Builder) {})
			})
			if m.version >= VersionTLS12 {
				b.AddUint16(extSignatureAlgorithms)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						for _, alg := range signatureAlgorithms {
							b.AddUint16(alg)
						}
					})
				})
			}
			if m.serverName != "" {
				b.AddUint16(extServerName)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint8(0) // host_name
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddBytes([]byte(m.serverName))
						})
					})
				})
			}
		})
	})
	return b.Bytes()
}

// marshalClientKeyExchange wraps the encrypted premaster. TLS 1.0 and later
// carry a two-byte length before the ciphertext.
func marshalClientKeyExchange(ciphertext []byte) ([]byte, error) {
	var b cryptobyte.Builder
	addHandshake(&b, typeClientKeyExchange, func(b *cryptobyte.Builder) {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(ciphertext) })
	})
	return b.Bytes()
}

// marshalEmptyCertificate is the client Certificate sent when the server asks
// for one and the probe has none to offer.
func marshalEmptyCertificate() ([]byte, error) {
	var b cryptobyte.Builder
	addHandshake(&b, typeCertificate, func(b *cryptobyte.Builder) {
		b.AddUint24LengthPrefixed(func(*cryptobyte.Builder) {})
	})
	return b.Bytes()
}

func marshalFinished(verifyData []byte) ([]byte, error) {
	var b cryptobyte.Builder
	addHandshake(&b, typeFinished, func(b *cryptobyte.Builder) { b.AddBytes(verifyData) })
	return b.Bytes()
}

type serverHello struct {
	version     uint16
	random      []byte
	sessionID   []byte
	cipherSuite uint16
}

func parseServerHello(body []byte) (*serverHello, error) {
	s := cryptobyte.String(body)
	m := &serverHello{}
	var sid cryptobyte.String
	var compression uint8
	if !s.ReadUint16(&m.version) ||
		!s.ReadBytes(&m.random, 32) ||
		!s.ReadUint8LengthPrefixed(&sid) ||
		!s.ReadUint16(&m.cipherSuite) ||
		!s.ReadUint8(&compression) {
		return nil, fmt.Errorf("%w: ServerHello", errMalformedMessage)
	}
	m.sessionID = append([]byte(nil), sid...)
	// Extensions are ignored.
	return m, nil
}

// parseCertificate returns the DER certificates of a server Certificate.
func parseCertificate(body []byte) ([][]byte, error) {
	s := cryptobyte.String(body)
	var list cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&list) || !s.Empty() {
		return nil, fmt.Errorf("%w: Certificate", errMalformedMessage)
	}
	var certs [][]byte
	for !list.Empty() {
		var der cryptobyte.String
		if !list.ReadUint24LengthPrefixed(&der) {
			return nil, fmt.Errorf("%w: Certificate entry", errMalformedMessage)
		}
		certs = append(certs, append([]byte(nil), der...))
	}
	return certs, nil
}

// Largest handshake message bodies accepted; crypto/tls uses the same bounds.
const (
	maxHandshake            = 65536
	maxHandshakeCertificate = 262144
)

// handshakeReader reassembles handshake messages from record payloads.
type handshakeReader struct {
	buf []byte
}

func (h *handshakeReader) add(p []byte) { h.buf = append(h.buf, p...) }

// next returns the next complete message (header included) and its type. ok
// is false while the message is incomplete. A declared length above the
// limit for its type is an error, so no more records are buffered for it.
func (h *handshakeReader) next() (typ uint8, msg []byte, ok bool, err error) {
	if len(h.buf) < 4 {
		return 0, nil, false, nil
	}
	typ = h.buf[0]
	n := int(h.buf[1])<<16 | int(h.buf[2])<<8 | int(h.buf[3])
	limit := maxHandshake
	if typ == typeCertificate {
		limit = maxHandshakeCertificate
	}
	if n > limit {
		return 0, nil, false, fmt.Errorf("%w: type %d declares %d bytes (limit %d)", errMalformedMessage, typ, n, limit)
	}
	if len(h.buf) < 4+n {
		return 0, nil, false, nil
	}
	msg, h.buf = h.buf[:4+n:4+n], h.buf[4+n:]
	return typ, msg, true, nil
}
