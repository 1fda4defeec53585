package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"xdao.co/bbgen/generator"
)

func newFetchKeyCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "fetch-key",
		Short: "Print the target's certificate key size and SPKI fingerprint",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			f.apply(cmd.Flags(), &cfg)
			if cfg.Target == "" {
				return usageError{errors.New("missing --target")}
			}
			client, err := generator.NewProbeClient(&cfg, a.log)
			if err != nil {
				return &generator.ConfigError{Err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			pub, err := client.FetchPublicKey(ctx)
			if err != nil {
				return err
			}
			return printKey(cmd.OutOrStdout(), cfg.Target, pub)
		},
	}
	f.addTargetFlags(cmd.Flags())
	return cmd
}

func printKey(w io.Writer, target string, pub crypto.PublicKey) error {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	sum := sha256.Sum256(spki)

	fmt.Fprintf(w, "target: %s\n", target)
	switch k := pub.(type) {
	case *rsa.PublicKey:
		fmt.Fprintf(w, "key: RSA %d bits (e=%d)\n", k.N.BitLen(), k.E)
	case *ecdsa.PublicKey:
		fmt.Fprintf(w, "key: ECDSA %s (not usable for RSA key exchange)\n", k.Curve.Params().Name)
	case ed25519.PublicKey:
		fmt.Fprintln(w, "key: Ed25519 (not usable for RSA key exchange)")
	default:
		fmt.Fprintf(w, "key: %T\n", pub)
	}
	fmt.Fprintf(w, "spki-sha256: %s\n", hex.EncodeToString(sum[:]))
	return nil
}
