// Package config holds the bbgen run configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"xdao.co/bbgen/pkcs1"
	"xdao.co/bbgen/tlsprobe"
)

// Config holds all bbgen configuration.
type Config struct {
	// Target server, host:port.
	Target          string   `yaml:"target"`
	ServerName      string   `yaml:"server_name"`
	ProtocolVersion string   `yaml:"protocol_version"` // TLS10, TLS11, TLS12
	CipherSuites    []string `yaml:"cipher_suites"`

	Iterations      int    `yaml:"iterations"`
	OutputDirectory string `yaml:"output_directory"`
	Manipulations   string `yaml:"manipulations"` // FAST, FULL
	TimeoutMillis   int    `yaml:"timeout_millis"`
	WaitMillis      int    `yaml:"wait_millis"`

	PreferTruncated bool `yaml:"prefer_truncated"`
	AllowRandom     bool `yaml:"allow_random"`
	TwoClass        bool `yaml:"two_class"`
	// OneClass samples only the wrong-first-byte vector. Excludes TwoClass.
	OneClass        bool `yaml:"one_class"`
	ClientAuth      bool `yaml:"client_auth"`
	SNI             bool `yaml:"sni"`

	// LegacySampling reproduces the historical sampler that never picks the
	// last corpus entry.
	LegacySampling bool `yaml:"legacy_sampling"`
	// SeedHex is a 32-byte hex seed for a reproducible run.
	SeedHex string `yaml:"seed_hex"`

	Logging  LoggingConfig  `yaml:"logging"`
	Manifest ManifestConfig `yaml:"manifest"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string   `yaml:"level"` // debug, info, warn, error
	Development bool     `yaml:"development"`
	OutputPaths []string `yaml:"output_paths"`
}

// ManifestConfig configures the run manifest written next to the dataset.
type ManifestConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SignatureAlg string `yaml:"signature_alg"` // none, ed25519, dilithium3
	HashAlg      string `yaml:"hash_alg"`      // dilithium3 only: sha256, sha512, sha3-256
	KeySeedHex   string `yaml:"key_seed_hex"`
	KeyFile      string `yaml:"key_file"`
}

// ArchiveConfig selects the CAS backends the dataset and manifest are copied
// to. Every backend receives every object.
type ArchiveConfig struct {
	Backends []BackendConfig `yaml:"backends"`
}

// BackendConfig opens one registered storage backend.
type BackendConfig struct {
	// Name is the registered backend name (localfs, grpc).
	Name string `yaml:"name"`
	// ID distinguishes two backends of the same kind. Defaults to Name.
	ID string `yaml:"id,omitempty"`
	// Settings are backend-specific, keyed like the backend's flags
	// (localfs-dir, grpc-target, ...).
	Settings map[string]string `yaml:"settings,omitempty"`
}

// Key is ID, or Name when ID is empty.
func (b BackendConfig) Key() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

const (
	SignatureNone       = "none"
	SignatureEd25519    = "ed25519"
	SignatureDilithium3 = "dilithium3"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ProtocolVersion: "TLS12",
		Iterations:      10000,
		OutputDirectory: ".",
		Manipulations:   "FAST",
		TimeoutMillis:   50,
		WaitMillis:      0,

		Logging: LoggingConfig{
			Level:       "info",
			OutputPaths: []string{"stderr"},
		},
		Manifest: ManifestConfig{
			Enabled:      true,
			SignatureAlg: SignatureNone,
			HashAlg:      "sha256",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BBGEN_TARGET"); v != "" {
		c.Target = v
	}
	if v := os.Getenv("BBGEN_OUTPUT_DIR"); v != "" {
		c.OutputDirectory = v
	}
	if v := os.Getenv("BBGEN_SEED_HEX"); v != "" {
		c.SeedHex = v
	}
}

// Timeout is the per-receive handshake timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// Wait is the pause between trials.
func (c *Config) Wait() time.Duration {
	return time.Duration(c.WaitMillis) * time.Millisecond
}

func (c *Config) Profile() (pkcs1.Profile, error) {
	return pkcs1.ParseProfile(c.Manipulations)
}

func (c *Config) Version() (uint16, error) {
	return tlsprobe.ParseVersion(c.ProtocolVersion)
}

// CipherSuiteIDs resolves CipherSuites; nil means every supported suite.
func (c *Config) CipherSuiteIDs() ([]uint16, error) {
	var ids []uint16
	for _, name := range c.CipherSuites {
		id, err := tlsprobe.ParseCipherSuite(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Seed decodes SeedHex. ok is false when no seed is configured.
func (c *Config) Seed() (seed [32]byte, ok bool, err error) {
	if c.SeedHex == "" {
		return seed, false, nil
	}
	b, err := hex.DecodeString(c.SeedHex)
	if err != nil {
		return seed, false, fmt.Errorf("seed_hex: %w", err)
	}
	if len(b) != len(seed) {
		return seed, false, fmt.Errorf("seed_hex: want %d bytes, got %d", len(seed), len(b))
	}
	copy(seed[:], b)
	return seed, true, nil
}

// Validate checks the fields a run needs. It does not require Target so that
// offline commands can share the configuration.
func (c *Config) Validate() error {
	if c.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0, got %d", c.Iterations)
	}
	if c.OutputDirectory == "" {
		return fmt.Errorf("output_directory is required")
	}
	if c.TimeoutMillis <= 0 {
		return fmt.Errorf("timeout_millis must be > 0, got %d", c.TimeoutMillis)
	}
	if c.WaitMillis < 0 {
		return fmt.Errorf("wait_millis must be >= 0, got %d", c.WaitMillis)
	}
	if _, err := c.Profile(); err != nil {
		return err
	}
	if c.OneClass && c.TwoClass {
		return fmt.Errorf("one_class and two_class are mutually exclusive")
	}
	version, err := c.Version()
	if err != nil {
		return err
	}
	ids, err := c.CipherSuiteIDs()
	if err != nil {
		return err
	}
	if len(tlsprobe.CipherSuitesFor(version, ids)) == 0 {
		return fmt.Errorf("no configured cipher suite is usable with %s", tlsprobe.VersionName(version))
	}
	if _, _, err := c.Seed(); err != nil {
		return err
	}

	switch c.Manifest.SignatureAlg {
	case "", SignatureNone:
	case SignatureEd25519, SignatureDilithium3:
		if c.Manifest.KeySeedHex == "" && c.Manifest.KeyFile == "" {
			return fmt.Errorf("manifest signing with %s needs key_seed_hex or key_file", c.Manifest.SignatureAlg)
		}
	default:
		return fmt.Errorf("invalid manifest signature_alg: %s (valid: none, ed25519, dilithium3)", c.Manifest.SignatureAlg)
	}

	seen := make(map[string]struct{}, len(c.Archive.Backends))
	for _, b := range c.Archive.Backends {
		if b.Name == "" {
			return fmt.Errorf("archive backend name is required")
		}
		if _, dup := seen[b.Key()]; dup {
			return fmt.Errorf("duplicate archive backend id %q", b.Key())
		}
		seen[b.Key()] = struct{}{}
	}
	return nil
}
