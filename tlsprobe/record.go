package tlsprobe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
)

type recordType uint8

const (
	recordChangeCipherSpec recordType = 20
	recordAlert            recordType = 21
	recordHandshake        recordType = 22
	recordApplicationData  recordType = 23
)

func (t recordType) String() string {
	switch t {
	case recordChangeCipherSpec:
		return "ChangeCipherSpec"
	case recordAlert:
		return "Alert"
	case recordHandshake:
		return "Handshake"
	case recordApplicationData:
		return "ApplicationData"
	default:
		return fmt.Sprintf("Record(%d)", uint8(t))
	}
}

const (
	recordHeaderLen = 5
	// maxCiphertext bounds an inbound record (2^14 plus expansion).
	maxCiphertext = 16384 + 2048
)

var errRecordTooLarge = errors.New("tlsprobe: record too large")

// appendRecord frames payload as one plaintext record.
func appendRecord(dst []byte, typ recordType, version uint16, payload []byte) []byte {
	dst = append(dst, byte(typ), byte(version>>8), byte(version), byte(len(payload)>>8), byte(len(payload)))
	return append(dst, payload...)
}

// readRecord reads one record header and body.
func readRecord(r io.Reader) (recordType, uint16, []byte, error) {
	var hdr [recordHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[3:]))
	if n > maxCiphertext {
		return 0, 0, nil, errRecordTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, 0, nil, err
	}
	return recordType(hdr[0]), binary.BigEndian.Uint16(hdr[1:3]), body, nil
}

// sealer protects outbound records once ChangeCipherSpec has been sent.
type sealer struct {
	version uint16
	seq     uint64

	aead    cipher.AEAD
	fixedIV []byte

	block  cipher.Block
	mac    hash.Hash
	iv     []byte
	random io.Reader
}

func newSealer(version uint16, suite *cipherSuite, macKey, key, iv []byte) (*sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	s := &sealer{version: version, random: rand.Reader}
	if suite.aead {
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		s.aead = aead
		s.fixedIV = append([]byte(nil), iv...)
		return s, nil
	}
	s.block = block
	s.mac = hmac.New(suite.mac, macKey)
	s.iv = append([]byte(nil), iv...)
	return s, nil
}

// appendSealed encrypts payload and frames it as one record.
func (s *sealer) appendSealed(dst []byte, typ recordType, payload []byte) ([]byte, error) {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], s.seq)
	s.seq++

	var body []byte
	if s.aead != nil {
		nonce := append(append([]byte(nil), s.fixedIV...), seq[:]...)
		ad := make([]byte, 0, 13)
		ad = append(ad, seq[:]...)
		ad = append(ad, byte(typ), byte(s.version>>8), byte(s.version), byte(len(payload)>>8), byte(len(payload)))
		body = append(body, seq[:]...)
		body = s.aead.Seal(body, nonce, payload, ad)
		return appendRecord(dst, typ, s.version, body), nil
	}

	s.mac.Reset()
	s.mac.Write(seq[:])
	s.mac.Write([]byte{byte(typ), byte(s.version >> 8), byte(s.version), byte(len(payload) >> 8), byte(len(payload))})
	s.mac.Write(payload)
	plain := append(append([]byte(nil), payload...), s.mac.Sum(nil)...)

	bs := s.block.BlockSize()
	padLen := bs - len(plain)%bs
	for i := 0; i < padLen; i++ {
		plain = append(plain, byte(padLen-1))
	}

	iv := s.iv
	if s.version >= VersionTLS11 {
		iv = make([]byte, bs)
		if _, err := io.ReadFull(s.random, iv); err != nil {
			return nil, err
		}
		body = append(body, iv...)
	}
	enc := make([]byte, len(plain))
	cipher.NewCBCEncrypter(s.block, iv).CryptBlocks(enc, plain)
	if s.version < VersionTLS11 {
		// TLS 1.0 chains the IV across records.
		s.iv = append(s.iv[:0], enc[len(enc)-bs:]...)
	}
	body = append(body, enc...)
	return appendRecord(dst, typ, s.version, body), nil
}
