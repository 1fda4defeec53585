// Command bbgen collects labeled Bleichenbacher probe datasets from a TLS
// server and inspects, verifies and archives what it collected.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/bbgen/config"
	"xdao.co/bbgen/generator"
	"xdao.co/bbgen/internal/logging"

	_ "xdao.co/bbgen/storage/grpccas"
	_ "xdao.co/bbgen/storage/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app is the state shared by all subcommands once the root has parsed its
// persistent flags.
type app struct {
	configPath string
	verbose    bool

	cfg *config.Config
	log *zap.Logger
}

// usageError marks errors caused by the command line itself.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func run(args []string, out, errOut io.Writer) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(context.Background())
	if a.log != nil {
		_ = a.log.Sync()
	}
	return exitCode(err, errOut)
}

func exitCode(err error, errOut io.Writer) int {
	if err == nil {
		return 0
	}
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(errOut, "bbgen: %v\nRun 'bbgen --help' for usage.\n", err)
		return 2
	}
	kind := generator.Classify(err)
	fmt.Fprintf(errOut, "bbgen: %s: %v\n", kind, err)
	if kind == generator.KindConfig {
		return 2
	}
	return 1
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "bbgen",
		Short: "Bleichenbacher probe dataset generator",
		Long: `bbgen drives a TLS server through RSA key-exchange handshakes carrying
malformed PKCS#1 v1.5 ciphertexts and records, for every trial, the
ClientHello random, the probe label and whether the handshake stopped after
the ClientKeyExchange. The CSV it writes is training material for a
side-channel classifier.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          usageArgs(cobra.NoArgs),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return &generator.ConfigError{Err: err}
			}
			a.cfg = cfg
			a.log, err = logging.New(cfg.Logging, a.verbose)
			if err != nil {
				return &generator.ConfigError{Err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return usageError{errors.New("missing command")}
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	root.PersistentFlags().StringVar(&a.configPath, "config", "bbgen.yaml", "Config file (a missing file means defaults)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level, one line per trial")

	root.AddCommand(
		newRunCmd(a),
		newFetchKeyCmd(a),
		newCorpusCmd(a),
		newInspectCmd(a),
		newManifestCmd(a),
		newKeygenCmd(a),
		newCIDCmd(a),
		newArchiveCmd(a),
	)
	return root
}
