package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/resumable-http/rufh/pkg/core"
	"github.com/resumable-http/rufh/pkg/demoapp"
)

const (
	tls13       = "tls13"
	tls12       = "tls12"
	tls12strong = "tls12-strong"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the resumable-upload server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfigFile(cmd.Flags(), Flags.ConfigFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	f := cmd.Flags()
	f.StringVar(&Flags.HTTPHost, "host", Flags.HTTPHost, "host to bind the HTTP server to")
	f.StringVar(&Flags.HTTPPort, "port", Flags.HTTPPort, "port to bind the HTTP server to")
	f.StringVar(&Flags.HTTPSock, "unix-sock", Flags.HTTPSock, "if set, bind to this UNIX socket instead of host:port")
	f.StringVar(&Flags.Basepath, "base-path", Flags.Basepath, "URL path the protocol handler is mounted under")
	f.Int64Var(&Flags.MaxSize, "max-size", Flags.MaxSize, "maximum upload size in bytes, 0 for unlimited")
	f.DurationVar(&Flags.NetworkTimeout, "network-timeout", Flags.NetworkTimeout, "read/write deadline for resumable-upload requests")
	f.DurationVar(&Flags.IdleRecordTimeout, "idle-record-timeout", Flags.IdleRecordTimeout, "evict an upload that has sat idle this long")
	f.DurationVar(&Flags.TransferInactivityTimeout, "transfer-inactivity-timeout", Flags.TransferInactivityTimeout, "abort a producer that stalls mid-transfer this long")
	f.Int64Var(&Flags.BufferBytes, "buffer-bytes", Flags.BufferBytes, "per-upload backpressure buffer size in bytes")
	f.StringVar(&Flags.StoragePath, "storage-path", Flags.StoragePath, "directory the demo application handler stores completed uploads in")
	f.BoolVar(&Flags.EnableH2C, "enable-h2c", Flags.EnableH2C, "serve cleartext HTTP/2")
	f.StringVar(&Flags.TLSCertFile, "tls-cert-file", Flags.TLSCertFile, "TLS certificate file; enables HTTPS when set with -tls-key-file")
	f.StringVar(&Flags.TLSKeyFile, "tls-key-file", Flags.TLSKeyFile, "TLS key file")
	f.StringVar(&Flags.TLSMode, "tls-mode", Flags.TLSMode, "one of tls13, tls12, tls12-strong")
	f.BoolVar(&Flags.ExposeMetrics, "expose-metrics", Flags.ExposeMetrics, "expose a Prometheus /metrics endpoint")
	f.StringVar(&Flags.MetricsPath, "metrics-path", Flags.MetricsPath, "path the metrics endpoint is served on")
	f.StringVar(&Flags.FileHooksDir, "file-hooks-dir", Flags.FileHooksDir, "directory of executables to invoke on lifecycle events")
	f.StringVar(&Flags.HTTPHooksEndpoint, "http-hooks-endpoint", Flags.HTTPHooksEndpoint, "HTTP endpoint to POST lifecycle events to")
	f.IntVar(&Flags.HTTPHooksRetry, "http-hooks-retry", Flags.HTTPHooksRetry, "retries for the HTTP hooks endpoint")
	f.DurationVar(&Flags.HTTPHooksBackoff, "http-hooks-backoff", Flags.HTTPHooksBackoff, "backoff between HTTP hooks retries")
	f.StringVar(&Flags.GRPCHooksEndpoint, "grpc-hooks-endpoint", Flags.GRPCHooksEndpoint, "gRPC endpoint to call on lifecycle events")
	f.BoolVar(&Flags.GRPCHooksSecure, "grpc-hooks-secure", Flags.GRPCHooksSecure, "use TLS for the gRPC hooks endpoint")
	f.StringVar(&Flags.SQSHooksQueueURL, "sqs-hooks-queue-url", Flags.SQSHooksQueueURL, "SQS queue URL to publish lifecycle events to")
	f.DurationVar(&Flags.ShutdownTimeout, "shutdown-timeout", Flags.ShutdownTimeout, "how long to wait for in-flight requests during shutdown")

	return cmd
}

func serve() error {
	logger := slog.Default()

	notifier, err := buildNotifier(logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(Flags.StoragePath, 0o754); err != nil {
		return err
	}
	app := demoapp.New(Flags.StoragePath)

	var metrics *core.Metrics
	if Flags.ExposeMetrics {
		metrics = core.NewMetrics(prometheus.DefaultRegisterer)
	}

	handler, err := core.NewHandler(core.Config{
		BasePath:       Flags.Basepath,
		MaxSize:        Flags.MaxSize,
		NetworkTimeout: Flags.NetworkTimeout,
		Handler:        app,
		Notifier:       notifier,
		Logger:         logger,
		Metrics:        metrics,
		Registry: core.RegistryConfig{
			BufferBytes:               Flags.BufferBytes,
			IdleRecordTimeout:         Flags.IdleRecordTimeout,
			TransferInactivityTimeout: Flags.TransferInactivityTimeout,
		},
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", handler.Middleware(http.NotFoundHandler()))

	if Flags.ExposeMetrics {
		mux.Handle(Flags.MetricsPath, promhttp.Handler())
	}

	address := Flags.HTTPHost + ":" + Flags.HTTPPort
	var listener net.Listener
	if Flags.HTTPSock != "" {
		address = Flags.HTTPSock
		listener, err = net.Listen("unix", address)
	} else {
		listener, err = net.Listen("tcp", address)
	}
	if err != nil {
		return err
	}

	serverCtx, cancelServerCtx := context.WithCancelCause(context.Background())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: Flags.NetworkTimeout,
		IdleTimeout:       Flags.NetworkTimeout,
		BaseContext: func(net.Listener) context.Context {
			return serverCtx
		},
	}

	shutdownComplete := setupSignalHandler(server, handler, cancelServerCtx, logger)

	logger.Info("listening", "address", listener.Addr().String(), "base_path", Flags.Basepath)

	if Flags.TLSCertFile != "" && Flags.TLSKeyFile != "" {
		err = serveTLS(server, listener)
	} else {
		if Flags.EnableH2C {
			h2s := &http2.Server{}
			server.Handler = h2c.NewHandler(mux, h2s)
		}
		err = server.Serve(listener)
	}

	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownComplete
		return nil
	}
	return err
}

func serveTLS(server *http.Server, listener net.Listener) error {
	switch Flags.TLSMode {
	case tls13:
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13}
	case tls12:
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	case tls12strong:
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, MaxVersion: tls.VersionTLS12}
	default:
		return errors.New("rufhd: invalid -tls-mode, want one of tls13, tls12, tls12-strong")
	}
	server.TLSNextProto = make(map[string]func(*http.Server, *tls.Conn, http.Handler))
	return server.ServeTLS(listener, Flags.TLSCertFile, Flags.TLSKeyFile)
}

func setupSignalHandler(server *http.Server, handler *core.Handler, cancelServerCtx context.CancelCauseFunc, logger *slog.Logger) <-chan struct{} {
	shutdownComplete := make(chan struct{})

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	server.RegisterOnShutdown(func() {
		cancelServerCtx(core.ErrServerShutdown)
	})

	go func() {
		<-c
		logger.Info("received interrupt signal, shutting down")

		go func() {
			<-c
			logger.Warn("received second interrupt signal, exiting immediately")
			os.Exit(1)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), Flags.ShutdownTimeout)
		defer cancel()

		handler.Shutdown(ctx)

		if err := server.Shutdown(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				logger.Warn("shutdown timeout exceeded, exiting immediately")
			} else {
				logger.Error("failed to shut down gracefully", "error", err)
			}
		} else {
			logger.Info("shutdown complete")
		}

		close(shutdownComplete)
	}()

	return shutdownComplete
}
