package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jacktea/sumgate/pkg/devs3"
	"github.com/jacktea/sumgate/pkg/server/admin"
	"github.com/jacktea/sumgate/pkg/server/grpcapi"
	"github.com/jacktea/sumgate/pkg/server/middleware"
	"github.com/jacktea/sumgate/pkg/storage"
	"github.com/jacktea/sumgate/pkg/tracing"
	"github.com/jacktea/sumgate/pkg/validator"
)

type serveOptions struct {
	Listen            string
	AdminListen       string
	MaxRecvBytes      int
	RejectEmptyBucket bool
	RateLimit         int
	RateWindow        time.Duration
	PeerRateLimit     int
	PeerRateWindow    time.Duration
	MaxPeers          int
	ShutdownTimeout   time.Duration
	Tracing           tracing.Config
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the DataValidator gRPC API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := serveOptions{
				Listen:            viper.GetString("serve.listen"),
				AdminListen:       viper.GetString("serve.admin_listen"),
				MaxRecvBytes:      viper.GetInt("serve.max_recv_bytes"),
				RejectEmptyBucket: viper.GetBool("serve.reject_empty_bucket"),
				RateLimit:         viper.GetInt("serve.rate_limit"),
				RateWindow:        viper.GetDuration("serve.rate_window"),
				PeerRateLimit:     viper.GetInt("serve.peer_rate_limit"),
				PeerRateWindow:    viper.GetDuration("serve.peer_rate_window"),
				MaxPeers:          viper.GetInt("serve.max_peers"),
				ShutdownTimeout:   viper.GetDuration("serve.shutdown_timeout"),
				Tracing: tracing.Config{
					ServiceName: "sumgate",
					Version:     version,
					Endpoint:    viper.GetString("tracing.endpoint"),
					Insecure:    viper.GetBool("tracing.insecure"),
					SampleRate:  viper.GetFloat64("tracing.sample_rate"),
				},
			}
			return runServe(application.ctx, application.logger, storageOptionsFromConfig(), opts)
		},
	}
	flags := cmd.Flags()
	flags.String("listen", "0.0.0.0:50051", "gRPC listen address")
	flags.String("admin-listen", ":9090", "health and metrics listen address (empty disables)")
	flags.Int("max-recv-bytes", grpcapi.DefaultMaxRecvBytes, "largest accepted request in bytes")
	flags.Bool("reject-empty-bucket", true, "reject requests without a bucket before contacting storage")
	flags.Int("rate-limit", 0, "requests allowed per rate window across all peers (0 disables)")
	flags.Duration("rate-window", time.Second, "rate limit window")
	flags.Int("peer-rate-limit", 0, "requests allowed per rate window for each peer (0 disables)")
	flags.Duration("peer-rate-window", time.Second, "per-peer rate limit window")
	flags.Int("max-peers", 4096, "peers tracked by the per-peer limiter")
	flags.Duration("shutdown-timeout", 10*time.Second, "time allowed for in-flight calls on shutdown")
	flags.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces (empty disables)")
	flags.Bool("otlp-insecure", false, "disable TLS to the OTLP endpoint")
	flags.Float64("trace-sample-rate", 1, "fraction of requests traced")

	bindConfig("serve.listen", flags.Lookup("listen"))
	bindConfig("serve.admin_listen", flags.Lookup("admin-listen"))
	bindConfig("serve.max_recv_bytes", flags.Lookup("max-recv-bytes"))
	bindConfig("serve.reject_empty_bucket", flags.Lookup("reject-empty-bucket"))
	bindConfig("serve.rate_limit", flags.Lookup("rate-limit"))
	bindConfig("serve.rate_window", flags.Lookup("rate-window"))
	bindConfig("serve.peer_rate_limit", flags.Lookup("peer-rate-limit"))
	bindConfig("serve.peer_rate_window", flags.Lookup("peer-rate-window"))
	bindConfig("serve.max_peers", flags.Lookup("max-peers"))
	bindConfig("serve.shutdown_timeout", flags.Lookup("shutdown-timeout"))
	bindConfig("tracing.endpoint", flags.Lookup("otlp-endpoint"))
	bindConfig("tracing.insecure", flags.Lookup("otlp-insecure"))
	bindConfig("tracing.sample_rate", flags.Lookup("trace-sample-rate"))
	return cmd
}

func runServe(ctx context.Context, logger logr.Logger, storeOpts storage.Options, opt serveOptions) error {
	shutdownTracing, err := tracing.Setup(ctx, opt.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error(err, "flushing traces")
		}
	}()

	store, err := storage.New(ctx, storeOpts)
	if err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	defer storage.Close(store)

	server := &grpcapi.Server{
		Validator: validator.New(store, validator.Options{
			Logger:            logger.WithName("validator"),
			RejectEmptyBucket: opt.RejectEmptyBucket,
		}),
		Log:  logger.WithName("grpc"),
		Opts: grpcOptions(opt),
	}
	logger.Info("starting", "version", version, "storage", storeOpts.Provider, "endpoint", storeOpts.Endpoint)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx, opt.Listen) })
	if opt.AdminListen != "" {
		adminServer := &admin.Server{
			Ready: server.Ready,
			Log:   logger.WithName("admin"),
		}
		g.Go(func() error { return adminServer.Start(ctx, opt.AdminListen) })
	}
	return g.Wait()
}

func grpcOptions(opt serveOptions) grpcapi.Options {
	out := grpcapi.Options{
		MaxRecvBytes:    opt.MaxRecvBytes,
		ShutdownTimeout: opt.ShutdownTimeout,
	}
	if opt.RateLimit > 0 {
		out.RateLimit = middleware.RateLimitOptions{Requests: opt.RateLimit, Window: opt.RateWindow}
	}
	if opt.PeerRateLimit > 0 {
		out.PeerRateLimit = middleware.PeerRateLimitOptions{
			RateLimitOptions: middleware.RateLimitOptions{Requests: opt.PeerRateLimit, Window: opt.PeerRateWindow},
			MaxPeers:         opt.MaxPeers,
		}
	}
	return out
}

type s3ServeOptions struct {
	Addr       string
	DB         string
	Buckets    []string
	RateLimit  int
	RateWindow time.Duration
}

func newServeS3Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-s3",
		Short: "Run an S3-compatible development endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := s3ServeOptions{
				Addr:       viper.GetString("serve_s3.addr"),
				DB:         viper.GetString("serve_s3.db"),
				Buckets:    viper.GetStringSlice("serve_s3.buckets"),
				RateLimit:  viper.GetInt("serve_s3.rate_limit"),
				RateWindow: viper.GetDuration("serve_s3.rate_window"),
			}
			return runServeS3(application.ctx, application.logger, opts)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", ":9000", "listen address")
	flags.String("db", ".sumgate/s3.db", "bbolt database file")
	flags.StringSlice("bucket", []string{"validation"}, "bucket to create on startup (repeatable)")
	flags.Int("rate-limit", 0, "requests allowed per rate window (0 disables)")
	flags.Duration("rate-window", time.Second, "rate limit window")
	bindConfig("serve_s3.addr", flags.Lookup("addr"))
	bindConfig("serve_s3.db", flags.Lookup("db"))
	bindConfig("serve_s3.buckets", flags.Lookup("bucket"))
	bindConfig("serve_s3.rate_limit", flags.Lookup("rate-limit"))
	bindConfig("serve_s3.rate_window", flags.Lookup("rate-window"))
	return cmd
}

func runServeS3(ctx context.Context, logger logr.Logger, opt s3ServeOptions) error {
	db, err := storage.OpenBolt(opt.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	s3Opts := devs3.Options{Buckets: opt.Buckets}
	if opt.RateLimit > 0 {
		s3Opts.RateLimit = middleware.RateLimitOptions{Requests: opt.RateLimit, Window: opt.RateWindow}
	}
	server := &devs3.Server{DB: db, Log: logger.WithName("s3"), Opt: s3Opts}
	return server.Start(ctx, opt.Addr)
}
