package tlsprobe

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"hash"
)

const (
	masterSecretLength = 48
	finishedLength     = 12

	labelMaster         = "master secret"
	labelKeyExpansion   = "key expansion"
	labelClientFinished = "client finished"
)

// pHash is P_hash from RFC 5246, section 5.
func pHash(result, secret, seed []byte, h func() hash.Hash) {
	mac := hmac.New(h, secret)
	mac.Write(seed)
	a := mac.Sum(nil)

	for j := 0; j < len(result); {
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		b := mac.Sum(nil)
		j += copy(result[j:], b)

		mac.Reset()
		mac.Write(a)
		a = mac.Sum(nil)
	}
}

// prf10 is the TLS 1.0/1.1 PRF: P_MD5 over the first half of the secret
// XORed with P_SHA1 over the second half.
func prf10(result, secret, label, seed []byte) {
	labelAndSeed := append(append([]byte(nil), label...), seed...)
	half := (len(secret) + 1) / 2
	s1, s2 := secret[:half], secret[len(secret)-half:]

	pHash(result, s1, labelAndSeed, md5.New)
	tmp := make([]byte, len(result))
	pHash(tmp, s2, labelAndSeed, sha1.New)
	for i, b := range tmp {
		result[i] ^= b
	}
}

func prf12(h func() hash.Hash) func(result, secret, label, seed []byte) {
	return func(result, secret, label, seed []byte) {
		labelAndSeed := append(append([]byte(nil), label...), seed...)
		pHash(result, secret, labelAndSeed, h)
	}
}

// keySchedule derives the client-side secrets for one connection.
type keySchedule struct {
	version uint16
	suite   *cipherSuite
	prf     func(result, secret, label, seed []byte)
}

func newKeySchedule(version uint16, suite *cipherSuite) keySchedule {
	ks := keySchedule{version: version, suite: suite, prf: prf10}
	if version >= VersionTLS12 {
		ks.prf = prf12(suite.prfHash)
	}
	return ks
}

func (ks keySchedule) masterSecret(premaster, clientRandom, serverRandom []byte) []byte {
	seed := append(append([]byte(nil), clientRandom...), serverRandom...)
	out := make([]byte, masterSecretLength)
	ks.prf(out, premaster, []byte(labelMaster), seed)
	return out
}

// clientKeys returns the client write MAC key, key and IV.
func (ks keySchedule) clientKeys(master, clientRandom, serverRandom []byte) (macKey, key, iv []byte) {
	s := ks.suite
	seed := append(append([]byte(nil), serverRandom...), clientRandom...)
	n := 2*s.macLen + 2*s.keyLen + 2*s.ivLen
	block := make([]byte, n)
	ks.prf(block, master, []byte(labelKeyExpansion), seed)

	macKey, block = block[:s.macLen], block[2*s.macLen:]
	key, block = block[:s.keyLen], block[2*s.keyLen:]
	iv = block[:s.ivLen]
	return macKey, key, iv
}

// finishedHash returns the transcript digest the Finished message covers.
func (ks keySchedule) finishedHash(transcript []byte) []byte {
	if ks.version >= VersionTLS12 {
		h := ks.suite.prfHash()
		h.Write(transcript)
		return h.Sum(nil)
	}
	m := md5.Sum(transcript)
	s := sha1.Sum(transcript)
	return append(m[:], s[:]...)
}

func (ks keySchedule) clientVerifyData(master, transcript []byte) []byte {
	out := make([]byte, finishedLength)
	ks.prf(out, master, []byte(labelClientFinished), ks.finishedHash(transcript))
	return out
}
