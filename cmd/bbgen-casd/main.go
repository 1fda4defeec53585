// Command bbgen-casd serves a CAS backend over gRPC so that bbgen runs on
// other hosts can archive to it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"xdao.co/bbgen/config"
	"xdao.co/bbgen/internal/logging"
	"xdao.co/bbgen/storage"
	"xdao.co/bbgen/storage/casregistry"
	"xdao.co/bbgen/storage/grpccas"

	_ "xdao.co/bbgen/storage/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func run(args []string, out, errOut io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// A second signal during the graceful stop kills the daemon.
	context.AfterFunc(ctx, stop)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(errOut, "bbgen-casd: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	var (
		listen       string
		backend      string
		listBackends bool
		logCfg       = config.LoggingConfig{Level: "info"}
		verbose      bool
	)
	cmd := &cobra.Command{
		Use:           "bbgen-casd",
		Short:         "Serve a content-addressed store over gRPC",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if listBackends {
				for _, b := range casregistry.List(casregistry.UsageDaemon) {
					if b.Description == "" {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b.Name)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Name, b.Description)
				}
				return nil
			}

			log, err := logging.New(logCfg, verbose)
			if err != nil {
				return usageError{err}
			}
			defer func() { _ = log.Sync() }()

			settings := casregistry.FlagSettings(cmd.Flags(), casregistry.UsageDaemon)
			cas, closeFn, err := casregistry.Open(cmd.Context(), backend, casregistry.UsageDaemon, settings)
			if err != nil {
				return usageError{err}
			}
			if closeFn != nil {
				defer closeFn()
			}

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			log.Info("listening", zap.String("addr", lis.Addr().String()), zap.String("backend", backend))
			return serve(cmd.Context(), lis, cas, log)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7777", "listen address")
	cmd.Flags().StringVar(&backend, "backend", "localfs", "CAS backend name")
	cmd.Flags().BoolVar(&listBackends, "list-backends", false, "List supported backends and exit")
	cmd.Flags().StringVar(&logCfg.Level, "log-level", "info", "debug, info, warn or error")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every RPC")
	casregistry.RegisterFlags(cmd.Flags(), casregistry.UsageDaemon)
	return cmd
}

// serve runs the gRPC server on lis until ctx is done, then stops it
// gracefully. It owns lis.
func serve(ctx context.Context, lis net.Listener, cas storage.CAS, log *zap.Logger) error {
	srv := grpc.NewServer(grpc.UnaryInterceptor(grpccas.LoggingInterceptor(log)))
	grpccas.RegisterServer(srv, &grpccas.Server{CAS: cas})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		srv.GracefulStop()
		return nil
	})
	return g.Wait()
}
