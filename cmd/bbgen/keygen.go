package main

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/bbgen/keys"
)

func newKeygenCmd(*app) *cobra.Command {
	var (
		out     string
		seedHex string
		alg     string
		hashAlg string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a manifest signing seed and print its public key",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return usageError{errors.New("missing --out")}
			}
			var seed []byte
			var err error
			if seedHex != "" {
				if seed, err = keys.ParseSeedHex(seedHex); err != nil {
					return usageError{fmt.Errorf("invalid --seed-hex: %w", err)}
				}
			} else if seed, err = keys.GenerateSeed(rand.Reader); err != nil {
				return fmt.Errorf("rand: %w", err)
			}
			signer, err := keys.NewSigner(alg, hashAlg, seed)
			if err != nil {
				return usageError{err}
			}
			if err := keys.WriteSeedFile(out, seed, force); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Stored seed at: %s\n", out)
			fmt.Fprintf(w, "Public key: %s\n", signer.PublicKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Seed file to create (0600)")
	cmd.Flags().StringVar(&seedHex, "seed-hex", "", "Use this 64-hex-char seed instead of a random one")
	cmd.Flags().StringVar(&alg, "alg", keys.AlgEd25519, "Public key to print: ed25519 or dilithium3")
	cmd.Flags().StringVar(&hashAlg, "hash-alg", "sha256", "dilithium3 digest: sha256, sha512 or sha3-256")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing seed file")
	return cmd
}
