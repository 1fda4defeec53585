package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func testSeed() []byte {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

func TestSignEd25519SHA256_Verifies(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(testSeed())
	pub := priv.Public().(ed25519.PublicKey)

	msg := []byte("hello")
	sigB64 := SignEd25519SHA256(msg, priv)
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}

	digest := sha256.Sum256(msg)
	if !ed25519.Verify(pub, digest[:], sig) {
		t.Fatalf("signature did not verify")
	}
}

func TestSignDilithium3_Verifies_SHA3_256(t *testing.T) {
	pk, sk, err := GenerateDilithium3Keypair(io.Reader(&deterministicReader{}))
	if err != nil {
		t.Fatalf("GenerateDilithium3Keypair: %v", err)
	}

	msg := []byte("hello")
	sigB64, err := SignDilithium3(msg, "sha3-256", sk)
	if err != nil {
		t.Fatalf("SignDilithium3: %v", err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if len(sig) != mode3.SignatureSize {
		t.Fatalf("unexpected signature size: got %d want %d", len(sig), mode3.SignatureSize)
	}

	digest, err := digestFor("sha3-256", msg)
	if err != nil {
		t.Fatalf("digestFor: %v", err)
	}
	if !mode3.Verify(pk, digest, sig) {
		t.Fatalf("signature did not verify")
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	for _, tc := range []struct{ alg, hash string }{
		{AlgEd25519, ""},
		{AlgDilithium3, "sha256"},
		{AlgDilithium3, "sha512"},
		{AlgDilithium3, "sha3-256"},
	} {
		s, err := NewSigner(tc.alg, tc.hash, testSeed())
		if err != nil {
			t.Fatalf("%s/%s: NewSigner: %v", tc.alg, tc.hash, err)
		}
		if !strings.HasPrefix(s.PublicKey(), tc.alg+":") {
			t.Fatalf("public key %q lacks %s prefix", s.PublicKey(), tc.alg)
		}
		msg := []byte("run-manifest")
		sig, err := s.Sign(msg)
		if err != nil {
			t.Fatalf("%s: Sign: %v", tc.alg, err)
		}
		if err := Verify(s.PublicKey(), s.HashAlg(), msg, sig); err != nil {
			t.Fatalf("%s/%s: Verify: %v", tc.alg, s.HashAlg(), err)
		}
		if err := Verify(s.PublicKey(), s.HashAlg(), []byte("tampered"), sig); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("%s: tampered message: got %v", tc.alg, err)
		}
	}
}

func TestSigner_DeterministicFromSeed(t *testing.T) {
	a, _ := NewSigner(AlgDilithium3, "sha256", testSeed())
	b, _ := NewSigner(AlgDilithium3, "sha256", testSeed())
	if a.PublicKey() != b.PublicKey() {
		t.Fatalf("same seed produced different public keys")
	}
}

func TestNewSigner_Rejects(t *testing.T) {
	if _, err := NewSigner(AlgEd25519, "", []byte{1, 2}); err == nil {
		t.Fatalf("expected short seed error")
	}
	if _, err := NewSigner("rsa", "", testSeed()); err == nil {
		t.Fatalf("expected unsupported algorithm error")
	}
	if _, err := NewSigner(AlgDilithium3, "md5", testSeed()); err == nil {
		t.Fatalf("expected unsupported hash error")
	}
}

func TestVerify_Malformed(t *testing.T) {
	for _, pk := range []string{"nocolon", "ed25519:!!", "ed25519:" + base64.StdEncoding.EncodeToString([]byte{1}), "rsa:AAAA"} {
		if err := Verify(pk, "sha256", []byte("m"), "AAAA"); err == nil {
			t.Fatalf("Verify(%q) succeeded", pk)
		}
	}
}

func TestSeedFile_RoundTrip(t *testing.T) {
	path := t.TempDir() + "/keys/manifest.key"
	seed, err := GenerateSeed(&deterministicReader{b: 7})
	if err != nil {
		t.Fatalf("GenerateSeed: %v", err)
	}
	if err := WriteSeedFile(path, seed, false); err != nil {
		t.Fatalf("WriteSeedFile: %v", err)
	}
	if err := WriteSeedFile(path, seed, false); err == nil {
		t.Fatalf("expected existing file to be refused without overwrite")
	}
	if err := WriteSeedFile(path, seed, true); err != nil {
		t.Fatalf("WriteSeedFile overwrite: %v", err)
	}

	got, err := LoadSeed("", path)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if !bytes.Equal(got, seed) {
		t.Fatalf("seed mismatch")
	}
}

func TestLoadSeed_PrefersHex(t *testing.T) {
	hexSeed := "0x" + strings.Repeat("11", SeedSize)
	got, err := LoadSeed(hexSeed, "/does/not/exist")
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if got[0] != 0x11 {
		t.Fatalf("unexpected seed")
	}
	if _, err := LoadSeed("", ""); err == nil {
		t.Fatalf("expected error with no key source")
	}
	if _, err := ParseSeedHex("abcd"); err == nil {
		t.Fatalf("expected short seed error")
	}
}
