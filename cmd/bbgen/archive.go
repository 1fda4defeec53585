package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/bbgen/generator"
	"xdao.co/bbgen/storage"
	"xdao.co/bbgen/storage/casregistry"
)

func newArchiveCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Put and get objects in the configured archive backends",
		Long: `Works on the backends listed under archive.backends in the config file,
or on those named with --archive-backend. put writes to every backend; get
reads from the first backend that has the object.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return usageError{errors.New("missing archive subcommand")}
		},
	}
	cmd.PersistentFlags().StringArrayVar(&f.archiveBackends, "archive-backend", nil, "Archive backend (repeatable; default: the config file's backends)")
	casregistry.RegisterFlags(cmd.PersistentFlags(), casregistry.UsageCLI)

	open := func(cmd *cobra.Command) (storage.ReplicatingCAS, func() error, error) {
		cfg := *a.cfg
		f.apply(cmd.Flags(), &cfg)
		if len(cfg.Archive.Backends) == 0 {
			return storage.ReplicatingCAS{}, nil, usageError{errors.New("no archive backend configured")}
		}
		return generator.OpenArchive(cmd.Context(), cfg.Archive.Backends)
	}

	put := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file and print its CID",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readFile(args[0])
			if err != nil {
				return err
			}
			archive, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			id, per, err := archive.PutAll(cmd.Context(), b)
			if err != nil {
				return err
			}
			for _, nb := range archive.Backends {
				a.log.Debug("stored", zap.String("backend", nb.Name), zap.Stringer("cid", per[nb.Name]))
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	var outPath string
	get := &cobra.Command{
		Use:   "get <cid>",
		Short: "Fetch an object by CID (to stdout or --out)",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := storage.ParseCID(args[0])
			if err != nil {
				return usageError{fmt.Errorf("%s: %w", args[0], err)}
			}
			archive, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			b, err := archive.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(outPath, b, 0o644)
		},
	}
	get.Flags().StringVarP(&outPath, "out", "o", "", "Output file")

	backends := &cobra.Command{
		Use:   "backends",
		Short: "List the backends this binary can archive to",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, b := range casregistry.List(casregistry.UsageCLI) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Name, b.Description)
				for _, s := range b.Settings {
					fmt.Fprintf(cmd.OutOrStdout(), "  --%s\t%s\n", s.Key, s.Help)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(put, get, backends)
	return cmd
}
