package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"xdao.co/bbgen/config"
	"xdao.co/bbgen/generator"
	"xdao.co/bbgen/storage/casregistry"
)

type runFlags struct {
	target          string
	serverName      string
	protocolVersion string
	cipherSuites    []string

	iterations      int
	folder          string
	manipulations   string
	timeoutMillis   int
	waitMillis      int
	preferTruncated bool
	allowRandom     bool
	oneClass        bool
	twoClass        bool
	clientAuth      bool
	sni             bool
	legacySampling  bool
	seedHex         string

	archiveBackends []string
}

// addTargetFlags registers the flags that select and reach the server.
func (f *runFlags) addTargetFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.target, "target", "", "Target server host:port")
	fs.StringVar(&f.serverName, "server-name", "", "Server name for SNI (default: target host)")
	fs.StringVar(&f.protocolVersion, "protocol-version", "", "TLS10, TLS11 or TLS12 (default TLS12)")
	fs.StringSliceVar(&f.cipherSuites, "cipher-suites", nil, "RSA key-exchange suites to offer (default: all supported)")
	fs.IntVar(&f.timeoutMillis, "timeout", 50, "Handshake receive timeout in milliseconds")
	fs.BoolVar(&f.sni, "sni", false, "Send the server_name extension")
}

func (f *runFlags) addTrialFlags(fs *pflag.FlagSet) {
	fs.IntVar(&f.iterations, "repetitions", 10000, "Number of trials")
	fs.StringVar(&f.folder, "folder", ".", "Output directory for the dataset and manifest")
	fs.StringVar(&f.manipulations, "manipulations", "FAST", "Probe profile: FAST or FULL")
	fs.IntVar(&f.waitMillis, "wait", 0, "Pause between trials in milliseconds")
	fs.BoolVar(&f.preferTruncated, "skip", false, "Stop handshakes after the ClientKeyExchange")
	fs.BoolVar(&f.allowRandom, "noskip", false, "With --skip: pick the truncated or full handshake at random per trial")
	fs.BoolVar(&f.oneClass, "oneclass", false, "Only use the wrong-first-byte vector")
	fs.BoolVar(&f.twoClass, "twoclass", false, "Only use the correct and wrong-version vectors")
	fs.BoolVar(&f.clientAuth, "clientauth", false, "Answer a CertificateRequest with an empty Certificate")
	fs.BoolVar(&f.legacySampling, "legacy-sampling", false, "Never pick the last corpus vector, like datasets from older tools")
	fs.StringVar(&f.seedHex, "seed-hex", "", "32-byte hex seed for a reproducible run")
}

// apply copies every explicitly set flag onto cfg.
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, apply func()) {
		if fl := fs.Lookup(name); fl != nil && fl.Changed {
			apply()
		}
	}
	set("target", func() { cfg.Target = f.target })
	set("server-name", func() { cfg.ServerName = f.serverName })
	set("protocol-version", func() { cfg.ProtocolVersion = f.protocolVersion })
	set("cipher-suites", func() { cfg.CipherSuites = f.cipherSuites })
	set("timeout", func() { cfg.TimeoutMillis = f.timeoutMillis })
	set("sni", func() { cfg.SNI = f.sni })

	set("repetitions", func() { cfg.Iterations = f.iterations })
	set("folder", func() { cfg.OutputDirectory = f.folder })
	set("manipulations", func() { cfg.Manipulations = f.manipulations })
	set("wait", func() { cfg.WaitMillis = f.waitMillis })
	set("skip", func() { cfg.PreferTruncated = f.preferTruncated })
	set("noskip", func() { cfg.AllowRandom = f.allowRandom })
	set("oneclass", func() { cfg.OneClass = f.oneClass })
	set("twoclass", func() { cfg.TwoClass = f.twoClass })
	set("clientauth", func() { cfg.ClientAuth = f.clientAuth })
	set("legacy-sampling", func() { cfg.LegacySampling = f.legacySampling })
	set("seed-hex", func() { cfg.SeedHex = f.seedHex })

	set("archive-backend", func() {
		backends := make([]config.BackendConfig, 0, len(f.archiveBackends))
		for _, name := range f.archiveBackends {
			b := config.BackendConfig{Name: name}
			for _, existing := range cfg.Archive.Backends {
				if existing.Key() == name {
					b = existing
				}
			}
			backends = append(backends, b)
		}
		cfg.Archive.Backends = backends
	})
	if over := casregistry.FlagSettings(fs, casregistry.UsageCLI); len(over) > 0 {
		// cfg may be a shallow copy; the backends array belongs to the caller.
		cfg.Archive.Backends = slices.Clone(cfg.Archive.Backends)
		for i := range cfg.Archive.Backends {
			cfg.Archive.Backends[i].Settings = casregistry.Settings(cfg.Archive.Backends[i].Settings).Merge(over)
		}
	}
}

// interruptContext is cancelled by the first SIGINT or SIGTERM. From then on
// the signals have their default behaviour again, so a second one kills the
// process while the run is still finishing.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trials and write the labeled dataset",
		Long: `Fetches the server's RSA key, builds the probe corpus and runs the trials.
Each trial's row is written before its handshake is sent. Interrupting the
run (SIGINT, SIGTERM) lets the handshake in flight finish, then writes the
manifest and exits 0.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			f.apply(cmd.Flags(), &cfg)

			ctx, stop := interruptContext(cmd.Context())
			defer stop()

			res, err := generator.Run(ctx, &cfg, generator.Deps{Logger: a.log})
			if res.DatasetPath != "" {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "dataset: %s\n", res.DatasetPath)
				fmt.Fprintf(out, "trials: %d/%d (truncated %d)\n", res.Summary.Completed, res.Summary.Requested, res.Summary.Truncated)
				if res.Summary.Interrupted {
					fmt.Fprintln(out, "interrupted: true")
				}
				if res.DatasetCID.Defined() {
					fmt.Fprintf(out, "dataset cid: %s\n", res.DatasetCID)
				}
				if res.ManifestCID.Defined() {
					fmt.Fprintf(out, "manifest: %s (%s)\n", res.ManifestPath, res.ManifestCID)
				}
			}
			return err
		},
	}
	f.addTargetFlags(cmd.Flags())
	f.addTrialFlags(cmd.Flags())
	cmd.Flags().StringArrayVar(&f.archiveBackends, "archive-backend", nil, "Archive backend to copy the dataset and manifest to (repeatable)")
	casregistry.RegisterFlags(cmd.Flags(), casregistry.UsageCLI)
	return cmd
}
