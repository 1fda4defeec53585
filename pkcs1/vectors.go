// Package pkcs1 generates the malformed PKCS#1 v1.5 premaster-secret
// ciphertexts sent as Bleichenbacher probes.
//
// Every vector is a k-byte block (k = modulus length) built around a 48-byte
// premaster secret and raw-RSA encrypted under the target's public key. The
// vector name doubles as its dataset label.
package pkcs1

import (
	"fmt"
	"strings"
)

// PremasterSize is the length of a TLS RSA premaster secret.
const PremasterSize = 48

// filler is the non-zero byte used for padding and premaster contents.
const filler = 0x2a

// minBlockSize leaves room for 00 02, eight padding bytes, the separator,
// a premaster secret of up to 49 bytes and a byte of slack.
const minBlockSize = 64

const (
	NameCorrect           = "Correctly formatted PKCS#1 PMS message"
	NameWrongFirstByte    = "Wrong first byte (0x00 set to 0x17)"
	NameWrongSecondByte   = "Wrong second byte (0x02 set to 0x17)"
	NameWrongVersion      = "Invalid TLS version in PMS"
	NameNoSeparator       = "No 0x00 in message"
	NameNullInPkcsPadding = "0x00 in PKCS#1 padding (first 8 bytes after 0x00 0x02)"
	NameNullNextToLast    = "0x00 on the next to last position (|PMS| = 1)"
	NameNullInPadding     = "0x00 in some padding byte"
)

// wrongSizes are the premaster lengths probed by the FULL profile.
var wrongSizes = []int{0, 8, 16, 24, 32, 40, 47, 49}

// WrongSizeName is the label of the FULL-profile vector whose premaster
// secret has n bytes.
func WrongSizeName(n int) string {
	return fmt.Sprintf("Wrong PMS size (%d bytes)", n)
}

// Profile selects which categories the generator produces.
type Profile string

const (
	ProfileFast Profile = "FAST"
	ProfileFull Profile = "FULL"
)

func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToUpper(strings.TrimSpace(s))) {
	case ProfileFast:
		return ProfileFast, nil
	case ProfileFull:
		return ProfileFull, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProfile, s)
	}
}

// Vector is one named probe. Vectors are immutable once generated; callers
// must not modify the slices.
type Vector struct {
	Name string
	// Plaintext is the padded block before encryption.
	Plaintext []byte
	// Ciphertext is Plaintext raised to the public exponent, k bytes long.
	Ciphertext []byte
}

// Premaster returns the trailing PremasterSize bytes of the plaintext block,
// the secret a lenient server would extract from it.
func (v Vector) Premaster() []byte {
	if len(v.Plaintext) < PremasterSize {
		return nil
	}
	return v.Plaintext[len(v.Plaintext)-PremasterSize:]
}

// Names lists the vector labels a profile produces, in generation order.
func Names(profile Profile) []string {
	names := []string{
		NameCorrect,
		NameWrongFirstByte,
		NameWrongSecondByte,
		NameWrongVersion,
		NameNoSeparator,
		NameNullInPkcsPadding,
		NameNullNextToLast,
	}
	if profile == ProfileFull {
		names = append(names, NameNullInPadding)
		for _, n := range wrongSizes {
			names = append(names, WrongSizeName(n))
		}
	}
	return names
}

// GeneratePlain builds the unencrypted blocks for a modulus of blockSize bytes.
// version is the TLS protocol version written into the premaster secret.
func GeneratePlain(blockSize int, profile Profile, version uint16) ([]Vector, error) {
	if profile != ProfileFast && profile != ProfileFull {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	if blockSize < minBlockSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooSmall, blockSize)
	}

	pms := premaster(version, PremasterSize)
	separator := blockSize - PremasterSize - 1

	vectors := []Vector{
		{Name: NameCorrect, Plaintext: padded(blockSize, pms)},
		{Name: NameWrongFirstByte, Plaintext: with(padded(blockSize, pms), 0, 0x17)},
		{Name: NameWrongSecondByte, Plaintext: with(padded(blockSize, pms), 1, 0x17)},
		{Name: NameWrongVersion, Plaintext: padded(blockSize, premaster(uint16(filler)<<8|filler, PremasterSize))},
		{Name: NameNoSeparator, Plaintext: with(padded(blockSize, pms), separator, filler)},
		{Name: NameNullInPkcsPadding, Plaintext: with(padded(blockSize, pms), 3, 0x00)},
		{Name: NameNullNextToLast, Plaintext: padded(blockSize, premaster(version, 1))},
	}
	if profile == ProfileFull {
		vectors = append(vectors, Vector{
			Name:      NameNullInPadding,
			Plaintext: with(padded(blockSize, pms), 10+(separator-10)/2, 0x00),
		})
		for _, n := range wrongSizes {
			vectors = append(vectors, Vector{Name: WrongSizeName(n), Plaintext: padded(blockSize, premaster(version, n))})
		}
	}
	return vectors, nil
}

// premaster returns n bytes of premaster material led by the version bytes.
func premaster(version uint16, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = filler
	}
	if n > 0 {
		b[0] = byte(version >> 8)
	}
	if n > 1 {
		b[1] = byte(version)
	}
	return b
}

// padded lays key out as 00 02 <non-zero padding> 00 <key>.
func padded(blockSize int, key []byte) []byte {
	b := make([]byte, blockSize)
	for i := range b {
		b[i] = filler
	}
	b[0] = 0x00
	b[1] = 0x02
	b[blockSize-len(key)-1] = 0x00
	copy(b[blockSize-len(key):], key)
	return b
}

func with(b []byte, i int, v byte) []byte {
	b[i] = v
	return b
}
