// Package generator runs one dataset collection end to end: fetch the
// server key, build the probe corpus, drive the trials, then describe and
// archive what was written.
package generator

import (
	"context"
	"crypto"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/bbgen/config"
	"xdao.co/bbgen/dataset"
	"xdao.co/bbgen/keys"
	"xdao.co/bbgen/manifest"
	"xdao.co/bbgen/pkcs1"
	"xdao.co/bbgen/storage"
	"xdao.co/bbgen/storage/casregistry"
	"xdao.co/bbgen/tlsprobe"
	"xdao.co/bbgen/trial"
)

// KeyFetcher retrieves the target's public key.
type KeyFetcher interface {
	FetchPublicKey(ctx context.Context) (crypto.PublicKey, error)
}

// ArchiveOpener opens the archive backends for a run.
type ArchiveOpener func(ctx context.Context, backends []config.BackendConfig) (storage.ReplicatingCAS, func() error, error)

// Deps are the run's collaborators. Nil fields are built from the config.
type Deps struct {
	Keys        KeyFetcher
	Executor    trial.Executor
	Source      *trial.Source
	OpenArchive ArchiveOpener
	Logger      *zap.Logger
	Now         func() time.Time
}

// Result describes a finished run.
type Result struct {
	Summary      trial.Summary
	Labels       []string
	DatasetPath  string
	DatasetCID   cid.Cid
	ManifestPath string
	ManifestCID  cid.Cid
	// Archived maps backend IDs to the dataset CID each returned.
	Archived map[string]cid.Cid
}

// OpenArchive opens the configured backends through the CAS registry.
func OpenArchive(ctx context.Context, backends []config.BackendConfig) (storage.ReplicatingCAS, func() error, error) {
	specs := make([]casregistry.Spec, 0, len(backends))
	for _, b := range backends {
		specs = append(specs, casregistry.Spec{Name: b.Name, ID: b.ID, Settings: b.Settings})
	}
	return casregistry.OpenAll(ctx, casregistry.UsageCLI, specs)
}

// NewProbeClient builds the TLS client that both fetches the key and runs
// the trials.
func NewProbeClient(cfg *config.Config, log *zap.Logger) (*tlsprobe.Client, error) {
	version, err := cfg.Version()
	if err != nil {
		return nil, err
	}
	suites, err := cfg.CipherSuiteIDs()
	if err != nil {
		return nil, err
	}
	return tlsprobe.NewClient(tlsprobe.Config{
		Target:       cfg.Target,
		ServerName:   cfg.ServerName,
		SNI:          cfg.SNI,
		ClientAuth:   cfg.ClientAuth,
		Version:      version,
		CipherSuites: suites,
		Timeout:      cfg.Timeout(),
	}, log)
}

func (d *Deps) complete(cfg *config.Config) error {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.OpenArchive == nil {
		d.OpenArchive = OpenArchive
	}
	if d.Keys == nil || d.Executor == nil {
		client, err := NewProbeClient(cfg, d.Logger)
		if err != nil {
			return &ConfigError{Err: err}
		}
		if d.Keys == nil {
			d.Keys = client
		}
		if d.Executor == nil {
			d.Executor = client
		}
	}
	if d.Source == nil {
		seed, ok, err := cfg.Seed()
		if err != nil {
			return &ConfigError{Err: err}
		}
		if ok {
			d.Source = trial.NewSource(seed)
		} else if d.Source, err = trial.SystemSource(); err != nil {
			return err
		}
	}
	return nil
}

// Run performs one collection run. Errors carry a Kind (see Classify). A
// manifest or archive failure is returned only after the dataset is complete
// and closed; the dataset is never altered by it.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (Result, error) {
	var res Result
	if err := cfg.Validate(); err != nil {
		return res, &ConfigError{Err: err}
	}
	profile, _ := cfg.Profile()
	version, _ := cfg.Version()
	if err := deps.complete(cfg); err != nil {
		return res, err
	}
	log := deps.Logger

	// Load the signing key before any trial runs.
	var signer keys.Signer
	if cfg.Manifest.Enabled && cfg.Manifest.SignatureAlg != "" && cfg.Manifest.SignatureAlg != config.SignatureNone {
		seed, err := keys.LoadSeed(cfg.Manifest.KeySeedHex, cfg.Manifest.KeyFile)
		if err != nil {
			return res, &ManifestError{Op: "load key", Err: err}
		}
		if signer, err = keys.NewSigner(cfg.Manifest.SignatureAlg, cfg.Manifest.HashAlg, seed); err != nil {
			return res, &ManifestError{Op: "load key", Err: err}
		}
	}

	pub, err := deps.Keys.FetchPublicKey(ctx)
	if err != nil {
		return res, err
	}
	corpus, err := pkcs1.NewCorpus(pub, profile, version)
	if err != nil {
		return res, err
	}
	if corpus, err = Narrow(cfg, corpus); err != nil {
		return res, err
	}
	res.Labels = corpus.Names()
	log.Info("corpus ready",
		zap.String("manipulations", string(profile)),
		zap.Int("vectors", corpus.Len()),
		zap.Bool("one_class", cfg.OneClass),
		zap.Bool("two_class", cfg.TwoClass),
	)

	rec, err := dataset.Create(cfg.OutputDirectory)
	if err != nil {
		return res, err
	}
	defer rec.Close()
	res.DatasetPath = rec.Path()

	started := deps.Now().UTC()
	driver := trial.Driver{
		Corpus:         corpus,
		Policy:         trial.Policy{PreferTruncated: cfg.PreferTruncated, AllowRandom: cfg.AllowRandom},
		Source:         deps.Source,
		Recorder:       rec,
		Executor:       deps.Executor,
		Iterations:     cfg.Iterations,
		Wait:           cfg.Wait(),
		LegacySampling: cfg.LegacySampling,
		Logger:         log,
	}
	log.Info("starting trials",
		zap.String("target", cfg.Target),
		zap.Int("iterations", cfg.Iterations),
		zap.String("dataset", rec.Path()),
	)
	res.Summary, err = driver.Run(ctx)
	if err != nil {
		log.Error("trial loop failed", zap.Error(err), zap.Int("completed", res.Summary.Completed))
		return res, err
	}
	finished := deps.Now().UTC()
	log.Info("trials finished",
		zap.Int("completed", res.Summary.Completed),
		zap.Int("truncated", res.Summary.Truncated),
		zap.Bool("interrupted", res.Summary.Interrupted),
		zap.Duration("elapsed", res.Summary.Elapsed),
	)

	// The dataset is final from here on. An interrupt must not stop it from
	// being described and archived.
	ctx = context.WithoutCancel(ctx)

	data, err := os.ReadFile(res.DatasetPath)
	if err != nil {
		return res, &dataset.RecorderError{Op: "read", Path: res.DatasetPath, Err: err}
	}
	if res.DatasetCID, err = storage.CID(data); err != nil {
		return res, fmt.Errorf("dataset cid: %w", err)
	}
	log.Info("dataset written", zap.String("path", res.DatasetPath), zap.Stringer("cid", res.DatasetCID))

	archive, closeArchive, archiveErr := openArchive(ctx, cfg, deps)
	if closeArchive != nil {
		defer func() {
			if err := closeArchive(); err != nil {
				log.Warn("closing archive", zap.Error(err))
			}
		}()
	}
	if archiveErr == nil && len(archive.Backends) > 0 {
		res.Archived, archiveErr = putAll(ctx, archive, "dataset", data, log)
	}

	if cfg.Manifest.Enabled {
		m := manifest.New()
		m.StartedAt, m.FinishedAt = started, finished
		m.Target, m.ServerName = cfg.Target, cfg.ServerName
		m.ProtocolVersion = tlsprobe.VersionName(version)
		m.CipherSuites = cfg.CipherSuites
		m.Manipulations = string(profile)
		m.Iterations = res.Summary.Requested
		m.Trials = res.Summary.Completed
		m.Truncated = res.Summary.Truncated
		m.Interrupted = res.Summary.Interrupted
		m.Policy = manifest.Policy{
			PreferTruncated: cfg.PreferTruncated,
			AllowRandom:     cfg.AllowRandom,
			ClientAuth:      cfg.ClientAuth,
			SNI:             cfg.SNI,
		}
		m.OneClass, m.TwoClass, m.LegacySampling = cfg.OneClass, cfg.TwoClass, cfg.LegacySampling
		m.Labels = res.Labels
		m.Dataset = manifest.Dataset{File: filepath.Base(res.DatasetPath), Rows: res.Summary.Completed, CID: res.DatasetCID.String()}
		for _, b := range archive.Backends {
			if id, ok := res.Archived[b.Name]; ok {
				m.Archive = append(m.Archive, manifest.Receipt{Backend: b.Name, CID: id.String()})
			}
		}

		if signer != nil {
			if err := m.Sign(signer); err != nil {
				return res, &ManifestError{Op: "sign", Err: err}
			}
		}
		res.ManifestPath = filepath.Join(cfg.OutputDirectory, manifest.FileName)
		mdata, err := manifest.WriteFile(res.ManifestPath, m)
		if err != nil {
			return res, &ManifestError{Op: "write", Err: err}
		}
		if res.ManifestCID, err = storage.CID(mdata); err != nil {
			return res, &ManifestError{Op: "cid", Err: err}
		}
		log.Info("manifest written",
			zap.String("path", res.ManifestPath),
			zap.String("run_id", m.RunID),
			zap.Stringer("cid", res.ManifestCID),
			zap.Bool("signed", signer != nil),
		)

		if archiveErr == nil && len(archive.Backends) > 0 {
			_, archiveErr = putAll(ctx, archive, "manifest", mdata, log)
		}
	}

	if archiveErr != nil {
		return res, archiveErr
	}
	return res, nil
}

func openArchive(ctx context.Context, cfg *config.Config, deps Deps) (storage.ReplicatingCAS, func() error, error) {
	if len(cfg.Archive.Backends) == 0 {
		return storage.ReplicatingCAS{}, nil, nil
	}
	archive, closeFn, err := deps.OpenArchive(ctx, cfg.Archive.Backends)
	if err != nil {
		deps.Logger.Error("opening archive", zap.Error(err))
		return storage.ReplicatingCAS{}, nil, &ArchiveError{Artifact: "open", Err: err}
	}
	return archive, closeFn, nil
}

func putAll(ctx context.Context, archive storage.ReplicatingCAS, artifact string, data []byte, log *zap.Logger) (map[string]cid.Cid, error) {
	id, per, err := archive.PutAll(ctx, data)
	if err != nil {
		log.Error("archiving failed", zap.String("artifact", artifact), zap.Error(err))
		return per, &ArchiveError{Artifact: artifact, Err: err}
	}
	log.Info("archived", zap.String("artifact", artifact), zap.Stringer("cid", id), zap.Int("backends", len(per)))
	return per, nil
}

// Narrow applies the configured class restriction to corpus.
func Narrow(cfg *config.Config, corpus *pkcs1.Corpus) (*pkcs1.Corpus, error) {
	switch {
	case cfg.OneClass:
		return corpus.OneClass()
	case cfg.TwoClass:
		return corpus.TwoClass()
	default:
		return corpus, nil
	}
}
