package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
)

var ErrBadSignature = errors.New("keys: signature does not verify")

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}

// SignEd25519SHA256 returns a base64 signature over sha256(message).
func SignEd25519SHA256(message []byte, privateKey ed25519.PrivateKey) string {
	digest := sha256.Sum256(message)
	sig := ed25519.Sign(privateKey, digest[:])
	return base64.StdEncoding.EncodeToString(sig)
}

// SignDilithium3 returns a base64 dilithium3 signature over hash(message).
// hashAlg must be one of: sha256, sha512, sha3-256.
func SignDilithium3(message []byte, hashAlg string, privateKey *mode3.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("missing private key")
	}
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return "", err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(privateKey, digest, sig)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// Signer signs manifests. PublicKey is "<alg>:" + base64(public key bytes).
type Signer interface {
	Alg() string
	HashAlg() string
	PublicKey() string
	Sign(message []byte) (string, error)
}

// NewSigner derives a signer for alg from a 32-byte seed. hashAlg applies to
// dilithium3 only; ed25519 always signs sha256(message).
func NewSigner(alg, hashAlg string, seed []byte) (Signer, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(seed))
	}
	switch alg {
	case AlgEd25519:
		return ed25519Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
	case AlgDilithium3:
		if hashAlg == "" {
			hashAlg = "sha256"
		}
		if _, err := digestFor(hashAlg, nil); err != nil {
			return nil, err
		}
		var s [mode3.SeedSize]byte
		copy(s[:], seed)
		pk, sk := mode3.NewKeyFromSeed(&s)
		return dilithium3Signer{pub: pk, priv: sk, hashAlg: hashAlg}, nil
	default:
		return nil, fmt.Errorf("unsupported signature algorithm: %q", alg)
	}
}

type ed25519Signer struct {
	priv ed25519.PrivateKey
}

func (ed25519Signer) Alg() string     { return AlgEd25519 }
func (ed25519Signer) HashAlg() string { return "sha256" }

func (s ed25519Signer) PublicKey() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return AlgEd25519 + ":" + base64.StdEncoding.EncodeToString(pub)
}

func (s ed25519Signer) Sign(message []byte) (string, error) {
	return SignEd25519SHA256(message, s.priv), nil
}

type dilithium3Signer struct {
	pub     *mode3.PublicKey
	priv    *mode3.PrivateKey
	hashAlg string
}

func (dilithium3Signer) Alg() string       { return AlgDilithium3 }
func (s dilithium3Signer) HashAlg() string { return s.hashAlg }

func (s dilithium3Signer) PublicKey() string {
	return AlgDilithium3 + ":" + base64.StdEncoding.EncodeToString(s.pub.Bytes())
}

func (s dilithium3Signer) Sign(message []byte) (string, error) {
	return SignDilithium3(message, s.hashAlg, s.priv)
}

// Verify checks a base64 signature produced by a Signer with the given
// public key string and hash algorithm.
func Verify(publicKey, hashAlg string, message []byte, signature string) error {
	alg, enc, ok := strings.Cut(publicKey, ":")
	if !ok {
		return fmt.Errorf("keys: malformed public key %q", publicKey)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return fmt.Errorf("keys: public key: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("keys: signature: %w", err)
	}

	switch alg {
	case AlgEd25519:
		if len(raw) != ed25519.PublicKeySize {
			return fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		digest := sha256.Sum256(message)
		if !ed25519.Verify(ed25519.PublicKey(raw), digest[:], sig) {
			return ErrBadSignature
		}
		return nil
	case AlgDilithium3:
		if len(raw) != mode3.PublicKeySize {
			return fmt.Errorf("dilithium3 public key must be %d bytes, got %d", mode3.PublicKeySize, len(raw))
		}
		var buf [mode3.PublicKeySize]byte
		copy(buf[:], raw)
		var pk mode3.PublicKey
		pk.Unpack(&buf)
		digest, err := digestFor(hashAlg, message)
		if err != nil {
			return err
		}
		if !mode3.Verify(&pk, digest, sig) {
			return ErrBadSignature
		}
		return nil
	default:
		return fmt.Errorf("unsupported signature algorithm: %q", alg)
	}
}
