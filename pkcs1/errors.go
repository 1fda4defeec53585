package pkcs1

import "errors"

var (
	ErrNoKey          = errors.New("pkcs1: public key is missing")
	ErrNotRSA         = errors.New("pkcs1: public key is not an RSA key")
	ErrKeyTooSmall    = errors.New("pkcs1: modulus too small for a premaster secret")
	ErrEmptyCorpus    = errors.New("pkcs1: corpus is empty")
	ErrUnknownVector  = errors.New("pkcs1: unknown vector")
	ErrUnknownProfile = errors.New("pkcs1: unknown manipulation profile")
)

// CorpusError reports a failure to build or narrow a corpus. It is fatal to a
// run: no trial can start without a corpus.
type CorpusError struct {
	Op  string
	Err error
}

func (e *CorpusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return "pkcs1: " + e.Op + ": " + e.Err.Error()
}

func (e *CorpusError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func corpusError(op string, err error) error {
	return &CorpusError{Op: op, Err: err}
}
