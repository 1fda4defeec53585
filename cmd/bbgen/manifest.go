package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"xdao.co/bbgen/manifest"
)

var errDatasetMismatch = errors.New("dataset does not match the manifest's cid")

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

func newManifestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with run manifests",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return usageError{errors.New("missing manifest subcommand")}
		},
	}
	cmd.AddCommand(newManifestVerifyCmd(a))
	return cmd
}

func newManifestVerifyCmd(*app) *cobra.Command {
	var datasetPath string
	var allowUnsigned bool
	cmd := &cobra.Command{
		Use:   "verify <run-manifest.yaml>",
		Short: "Check a manifest's signature and, optionally, its dataset",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run_id: %s\n", m.RunID)

			switch err := m.Verify(); {
			case err == nil:
				fmt.Fprintf(out, "signature: OK (%s, %s)\n", m.Signature.Alg, m.Signature.HashAlg)
				fmt.Fprintf(out, "public key: %s\n", m.Signature.PublicKey)
			case errors.Is(err, manifest.ErrUnsigned) && allowUnsigned:
				fmt.Fprintln(out, "signature: none")
			default:
				return err
			}

			if datasetPath == "" {
				return nil
			}
			id, err := fileCID(datasetPath)
			if err != nil {
				return err
			}
			if id != m.Dataset.CID {
				return fmt.Errorf("%w: got %s want %s", errDatasetMismatch, id, m.Dataset.CID)
			}
			fmt.Fprintf(out, "dataset: OK (%s)\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&datasetPath, "dataset", "", "Dataset CSV to check against the manifest's cid")
	cmd.Flags().BoolVar(&allowUnsigned, "allow-unsigned", false, "Accept a manifest without a signature")
	return cmd
}
