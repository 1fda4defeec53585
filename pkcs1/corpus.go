package pkcs1

import (
	"crypto"
	"crypto/rsa"
	"fmt"
	"math/big"
)

// Corpus is the read-only, indexed set of probe vectors for one run.
type Corpus struct {
	vectors []Vector
}

// NewCorpus generates and encrypts the vectors of profile under pub.
//
// Errors are *CorpusError. A nil key, a non-RSA key or a modulus too small to
// carry a premaster secret are all rejected here so that no trial starts.
func NewCorpus(pub crypto.PublicKey, profile Profile, version uint16) (*Corpus, error) {
	if pub == nil {
		return nil, corpusError("new", ErrNoKey)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok || rsaKey == nil || rsaKey.N == nil {
		return nil, corpusError("new", fmt.Errorf("%w (got %T)", ErrNotRSA, pub))
	}
	vectors, err := Generate(rsaKey, profile, version)
	if err != nil {
		return nil, corpusError("new", err)
	}
	return FromVectors(vectors)
}

// Generate returns the encrypted vectors of profile for pub.
func Generate(pub *rsa.PublicKey, profile Profile, version uint16) ([]Vector, error) {
	k := (pub.N.BitLen() + 7) / 8
	vectors, err := GeneratePlain(k, profile, version)
	if err != nil {
		return nil, err
	}
	for i := range vectors {
		vectors[i].Ciphertext = encryptRaw(pub, vectors[i].Plaintext)
	}
	return vectors, nil
}

// FromVectors wraps already generated vectors. An empty slice is a CorpusError.
func FromVectors(vectors []Vector) (*Corpus, error) {
	if len(vectors) == 0 {
		return nil, corpusError("new", ErrEmptyCorpus)
	}
	return &Corpus{vectors: append([]Vector(nil), vectors...)}, nil
}

func (c *Corpus) Len() int { return len(c.vectors) }

// At returns the vector at index i. It panics when i is out of range.
func (c *Corpus) At(i int) Vector { return c.vectors[i] }

func (c *Corpus) Names() []string {
	out := make([]string, len(c.vectors))
	for i, v := range c.vectors {
		out[i] = v.Name
	}
	return out
}

// Restrict returns a corpus holding only the named vectors, in the order given.
func (c *Corpus) Restrict(names ...string) (*Corpus, error) {
	byName := make(map[string]Vector, len(c.vectors))
	for _, v := range c.vectors {
		byName[v.Name] = v
	}
	out := make([]Vector, 0, len(names))
	for _, name := range names {
		v, ok := byName[name]
		if !ok {
			return nil, corpusError("restrict", fmt.Errorf("%w: %q", ErrUnknownVector, name))
		}
		out = append(out, v)
	}
	return FromVectors(out)
}

// OneClass narrows the corpus to the wrong-first-byte vector alone, for
// single-category baseline datasets.
func (c *Corpus) OneClass() (*Corpus, error) {
	return c.Restrict(NameWrongFirstByte)
}

// TwoClass narrows the corpus to the correctly formatted vector and the
// wrong-version vector, the pair used to train binary classifiers.
func (c *Corpus) TwoClass() (*Corpus, error) {
	return c.Restrict(NameCorrect, NameWrongVersion)
}

// encryptRaw computes block^e mod N without any padding checks; crypto/rsa
// refuses to encrypt malformed blocks. When the modulus bit length is not a
// multiple of eight a block may exceed N; it is reduced mod N like any other,
// so the server sees block mod N.
func encryptRaw(pub *rsa.PublicKey, block []byte) []byte {
	m := new(big.Int).SetBytes(block)
	k := (pub.N.BitLen() + 7) / 8
	c := new(big.Int).Exp(m, big.NewInt(int64(pub.E)), pub.N)
	return c.FillBytes(make([]byte, k))
}
