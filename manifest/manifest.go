// Package manifest records the provenance of a dataset run: what was probed,
// how, and the content ID of the rows that came out. A manifest may be signed.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"xdao.co/bbgen/keys"
)

// FileName is the manifest's name inside the output directory.
const FileName = "run-manifest.yaml"

// FormatVersion is written to every manifest.
const FormatVersion = 1

var (
	ErrUnsigned       = errors.New("manifest: not signed")
	ErrFormatVersion  = errors.New("manifest: unsupported format version")
	ErrAlreadySigned  = errors.New("manifest: already signed")
	ErrMissingRunID   = errors.New("manifest: missing run_id")
	ErrMissingDataset = errors.New("manifest: missing dataset cid")
)

type Manifest struct {
	FormatVersion int    `yaml:"format_version"`
	RunID         string `yaml:"run_id"`

	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`

	Target          string   `yaml:"target"`
	ServerName      string   `yaml:"server_name,omitempty"`
	ProtocolVersion string   `yaml:"protocol_version"`
	CipherSuites    []string `yaml:"cipher_suites,omitempty"`
	Manipulations   string   `yaml:"manipulations"`

	Iterations  int  `yaml:"iterations"`
	Trials      int  `yaml:"trials"`
	Truncated   int  `yaml:"truncated"`
	Interrupted bool `yaml:"interrupted"`

	Policy         Policy   `yaml:"policy"`
	OneClass       bool     `yaml:"one_class,omitempty"`
	TwoClass       bool     `yaml:"two_class"`
	LegacySampling bool     `yaml:"legacy_sampling"`
	Labels         []string `yaml:"labels"`

	Dataset Dataset   `yaml:"dataset"`
	Archive []Receipt `yaml:"archive,omitempty"`

	Signature *Signature `yaml:"signature,omitempty"`
}

type Policy struct {
	PreferTruncated bool `yaml:"prefer_truncated"`
	AllowRandom     bool `yaml:"allow_random"`
	ClientAuth      bool `yaml:"client_auth"`
	SNI             bool `yaml:"sni"`
}

// Dataset identifies the CSV the run produced.
type Dataset struct {
	File string `yaml:"file"`
	Rows int    `yaml:"rows"`
	CID  string `yaml:"cid"`
}

// Receipt records that a backend accepted the dataset under CID.
type Receipt struct {
	Backend string `yaml:"backend"`
	CID     string `yaml:"cid"`
}

// Signature covers the manifest rendered with Value empty. Alg, HashAlg and
// PublicKey are part of the signed bytes.
type Signature struct {
	Alg       string `yaml:"alg"`
	HashAlg   string `yaml:"hash_alg"`
	PublicKey string `yaml:"public_key"`
	Value     string `yaml:"value"`
}

// New returns a manifest with a fresh run ID.
func New() *Manifest {
	return &Manifest{FormatVersion: FormatVersion, RunID: uuid.NewString()}
}

func (m *Manifest) Validate() error {
	if m.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: %d", ErrFormatVersion, m.FormatVersion)
	}
	if _, err := uuid.Parse(m.RunID); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingRunID, err)
	}
	if m.Dataset.CID == "" {
		return ErrMissingDataset
	}
	return nil
}

// Marshal renders the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// signingBytes renders m with the signature value blanked.
func (m *Manifest) signingBytes() ([]byte, error) {
	unsigned := *m
	if m.Signature != nil {
		sig := *m.Signature
		sig.Value = ""
		unsigned.Signature = &sig
	}
	return unsigned.Marshal()
}

// Sign attaches a signature made by s.
func (m *Manifest) Sign(s keys.Signer) error {
	if m.Signature != nil && m.Signature.Value != "" {
		return ErrAlreadySigned
	}
	m.Signature = &Signature{Alg: s.Alg(), HashAlg: s.HashAlg(), PublicKey: s.PublicKey()}
	msg, err := m.signingBytes()
	if err != nil {
		return err
	}
	value, err := s.Sign(msg)
	if err != nil {
		m.Signature = nil
		return fmt.Errorf("manifest: sign: %w", err)
	}
	m.Signature.Value = value
	return nil
}

// Verify checks the attached signature. An unsigned manifest fails with
// ErrUnsigned.
func (m *Manifest) Verify() error {
	if m.Signature == nil || m.Signature.Value == "" {
		return ErrUnsigned
	}
	msg, err := m.signingBytes()
	if err != nil {
		return err
	}
	return keys.Verify(m.Signature.PublicKey, m.Signature.HashAlg, msg, m.Signature.Value)
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// WriteFile renders m to path and returns the bytes written.
func WriteFile(path string, m *Manifest) ([]byte, error) {
	data, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("manifest: write: %w", err)
	}
	return data, nil
}
