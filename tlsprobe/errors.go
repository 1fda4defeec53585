package tlsprobe

import (
	"errors"
	"fmt"
)

var (
	ErrNoTarget          = errors.New("tlsprobe: no target")
	ErrNoCipherSuites    = errors.New("tlsprobe: no cipher suites usable at this protocol version")
	ErrUnexpectedSuite   = errors.New("tlsprobe: server selected a cipher suite that was not offered")
	ErrNotRSAKeyExchange = errors.New("tlsprobe: server sent ServerKeyExchange; not an RSA key exchange")
	ErrNoCertificate     = errors.New("tlsprobe: server sent no certificate")
	ErrUnexpectedMessage = errors.New("tlsprobe: unexpected message")
)

// FetchError reports a failed server public key retrieval.
type FetchError struct {
	Target string
	Err    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("tlsprobe: fetch public key from %s: %v", e.Target, e.Err)
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
