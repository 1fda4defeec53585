package main

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"xdao.co/bbgen/generator"
	"xdao.co/bbgen/pkcs1"
)

func newCorpusCmd(a *app) *cobra.Command {
	f := &runFlags{}
	var pubKeyPath string
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "List the probe vectors a run would use",
		Long: `Builds the probe corpus for a server key and prints one label per line.
The key comes from a PEM file (--pubkey: PUBLIC KEY, RSA PUBLIC KEY or
CERTIFICATE) or from the target's certificate (--target).`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			f.apply(cmd.Flags(), &cfg)
			if cfg.OneClass && cfg.TwoClass {
				return usageError{errors.New("--oneclass and --twoclass are mutually exclusive")}
			}
			profile, err := cfg.Profile()
			if err != nil {
				return usageError{err}
			}
			version, err := cfg.Version()
			if err != nil {
				return usageError{err}
			}

			var pub crypto.PublicKey
			switch {
			case pubKeyPath != "":
				if pub, err = readPublicKeyPEM(pubKeyPath); err != nil {
					return err
				}
			case cfg.Target != "":
				client, err := generator.NewProbeClient(&cfg, a.log)
				if err != nil {
					return &generator.ConfigError{Err: err}
				}
				if pub, err = client.FetchPublicKey(cmd.Context()); err != nil {
					return err
				}
			default:
				return usageError{errors.New("one of --pubkey or --target is required")}
			}

			corpus, err := pkcs1.NewCorpus(pub, profile, version)
			if err != nil {
				return err
			}
			if corpus, err = generator.Narrow(&cfg, corpus); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := 0; i < corpus.Len(); i++ {
				v := corpus.At(i)
				fmt.Fprintf(out, "%2d  %s\n", i, v.Name)
			}
			return nil
		},
	}
	f.addTargetFlags(cmd.Flags())
	cmd.Flags().StringVar(&pubKeyPath, "pubkey", "", "PEM file holding the server's RSA public key or certificate")
	cmd.Flags().StringVar(&f.manipulations, "manipulations", "FAST", "Probe profile: FAST or FULL")
	cmd.Flags().BoolVar(&f.oneClass, "oneclass", false, "Only the wrong-first-byte vector")
	cmd.Flags().BoolVar(&f.twoClass, "twoclass", false, "Only the correct and wrong-version vectors")
	return cmd
}

func readPublicKeyPEM(path string) (crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block", path)
	}
	switch block.Type {
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		return cert.PublicKey, nil
	default:
		return nil, fmt.Errorf("%s: unsupported PEM block %q", path, block.Type)
	}
}
