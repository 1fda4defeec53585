package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/bbgen/dataset"
	"xdao.co/bbgen/storage"
)

func newInspectCmd(*app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <dataset.csv>",
		Short: "Validate a dataset file and summarize its rows",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := dataset.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("inspect %s: %w", args[0], err)
			}
			stats := dataset.Summarize(rows)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rows: %d\n", stats.Rows)
			fmt.Fprintf(out, "truncated: %d (%.2f)\n", stats.Truncated, stats.TruncatedFraction())
			fmt.Fprintf(out, "duplicate randoms: %d\n", stats.Duplicates)
			fmt.Fprintln(out, "labels:")
			for _, label := range stats.LabelNames() {
				fmt.Fprintf(out, "  %6d  %s\n", stats.Labels[label], label)
			}
			return nil
		},
	}
}

func newCIDCmd(*app) *cobra.Command {
	return &cobra.Command{
		Use:   "cid <file>",
		Short: "Print the CIDv1 (raw, sha2-256) of a file",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := fileCID(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func fileCID(path string) (string, error) {
	b, err := readFile(path)
	if err != nil {
		return "", err
	}
	id, err := storage.CID(b)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
