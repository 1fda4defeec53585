package generator

import (
	"errors"
	"fmt"

	"xdao.co/bbgen/dataset"
	"xdao.co/bbgen/pkcs1"
	"xdao.co/bbgen/tlsprobe"
)

// Kind is the stable category of a run failure.
type Kind int

const (
	KindNone Kind = iota
	KindConfig
	KindKeyFetch
	KindCorpus
	KindDataset
	KindManifest
	KindArchive
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfig:
		return "config"
	case KindKeyFetch:
		return "key_fetch"
	case KindCorpus:
		return "corpus"
	case KindDataset:
		return "dataset"
	case KindManifest:
		return "manifest"
	case KindArchive:
		return "archive"
	default:
		return "internal"
	}
}

// ConfigError reports a configuration that cannot start a run.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return "config: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// ManifestError reports a failure to sign or write the run manifest.
type ManifestError struct {
	Op  string
	Err error
}

func (e *ManifestError) Error() string { return fmt.Sprintf("manifest %s: %v", e.Op, e.Err) }
func (e *ManifestError) Unwrap() error { return e.Err }

// ArchiveError reports a failure to copy an artifact to the archive.
type ArchiveError struct {
	Artifact string
	Err      error
}

func (e *ArchiveError) Error() string { return fmt.Sprintf("archive %s: %v", e.Artifact, e.Err) }
func (e *ArchiveError) Unwrap() error { return e.Err }

// Classify maps err to its Kind. A nil error is KindNone.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		cfgErr      *ConfigError
		fetchErr    *tlsprobe.FetchError
		corpusErr   *pkcs1.CorpusError
		recErr      *dataset.RecorderError
		manifestErr *ManifestError
		archiveErr  *ArchiveError
	)
	switch {
	case errors.As(err, &cfgErr):
		return KindConfig
	case errors.As(err, &fetchErr):
		return KindKeyFetch
	case errors.As(err, &corpusErr):
		return KindCorpus
	case errors.As(err, &recErr):
		return KindDataset
	case errors.As(err, &manifestErr):
		return KindManifest
	case errors.As(err, &archiveErr):
		return KindArchive
	default:
		return KindInternal
	}
}
