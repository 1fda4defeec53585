package tlsprobe

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"
)

const (
	VersionTLS10 uint16 = 0x0301
	VersionTLS11 uint16 = 0x0302
	VersionTLS12 uint16 = 0x0303
)

// ParseVersion accepts TLS10, TLS1.0, TLS11, TLS1.1, TLS12 and TLS1.2.
func ParseVersion(s string) (uint16, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ".", "")) {
	case "TLS10":
		return VersionTLS10, nil
	case "TLS11":
		return VersionTLS11, nil
	case "TLS12", "":
		return VersionTLS12, nil
	default:
		return 0, fmt.Errorf("tlsprobe: unsupported protocol version %q", s)
	}
}

func VersionName(v uint16) string {
	switch v {
	case VersionTLS10:
		return "TLS10"
	case VersionTLS11:
		return "TLS11"
	case VersionTLS12:
		return "TLS12"
	default:
		return fmt.Sprintf("0x%04x", v)
	}
}

// cipherSuite describes an RSA key-exchange suite this client can finish.
type cipherSuite struct {
	id     uint16
	name   string
	keyLen int
	// macLen is zero for AEAD suites.
	macLen int
	mac    func() hash.Hash
	// ivLen is the implicit IV (CBC, TLS 1.0) or the fixed nonce prefix (GCM).
	ivLen     int
	aead      bool
	tls12Only bool
	// prfHash is the TLS 1.2 PRF and Finished hash.
	prfHash func() hash.Hash
}

var cipherSuites = []cipherSuite{
	{id: 0x009c, name: "TLS_RSA_WITH_AES_128_GCM_SHA256", keyLen: 16, ivLen: 4, aead: true, tls12Only: true, prfHash: sha256.New},
	{id: 0x009d, name: "TLS_RSA_WITH_AES_256_GCM_SHA384", keyLen: 32, ivLen: 4, aead: true, tls12Only: true, prfHash: sha512.New384},
	{id: 0x003c, name: "TLS_RSA_WITH_AES_128_CBC_SHA256", keyLen: 16, macLen: 32, mac: sha256.New, ivLen: 16, tls12Only: true, prfHash: sha256.New},
	{id: 0x002f, name: "TLS_RSA_WITH_AES_128_CBC_SHA", keyLen: 16, macLen: 20, mac: sha1.New, ivLen: 16, prfHash: sha256.New},
	{id: 0x0035, name: "TLS_RSA_WITH_AES_256_CBC_SHA", keyLen: 32, macLen: 20, mac: sha1.New, ivLen: 16, prfHash: sha256.New},
}

func suiteByID(id uint16) *cipherSuite {
	for i := range cipherSuites {
		if cipherSuites[i].id == id {
			return &cipherSuites[i]
		}
	}
	return nil
}

// CipherSuiteName returns the IANA name of a supported suite, or its hex id.
func CipherSuiteName(id uint16) string {
	if s := suiteByID(id); s != nil {
		return s.name
	}
	return fmt.Sprintf("0x%04x", id)
}

// ParseCipherSuite resolves an IANA suite name.
func ParseCipherSuite(name string) (uint16, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, s := range cipherSuites {
		if s.name == name {
			return s.id, nil
		}
	}
	return 0, fmt.Errorf("tlsprobe: unsupported cipher suite %q", name)
}

// CipherSuitesFor filters ids (all supported suites when empty) down to the
// ones usable at version.
func CipherSuitesFor(version uint16, ids []uint16) []uint16 {
	if len(ids) == 0 {
		for _, s := range cipherSuites {
			ids = append(ids, s.id)
		}
	}
	out := make([]uint16, 0, len(ids))
	for _, id := range ids {
		s := suiteByID(id)
		if s == nil || (s.tls12Only && version < VersionTLS12) {
			continue
		}
		out = append(out, id)
	}
	return out
}
