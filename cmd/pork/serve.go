package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cairijun/pork/internal/broker"
	"github.com/cairijun/pork/internal/config"
	"github.com/cairijun/pork/internal/coordination"
	"github.com/cairijun/pork/internal/logging"
	"github.com/cairijun/pork/internal/metrics"
	"github.com/cairijun/pork/internal/notify"
	"github.com/cairijun/pork/internal/observability"
	"github.com/cairijun/pork/internal/replication"
	"github.com/cairijun/pork/internal/transport"
)

// sharedCluster backs every InProcess coordination session started by this
// binary with one process-wide membership table. A real multi-host
// deployment needs an external ensemble behind coordination.Coordinator;
// this in-memory stand-in is what ships here (see DESIGN.md).
var sharedCluster = coordination.NewCluster()

func serveCmd() *cobra.Command {
	var (
		zookeeper        string
		zookeeperTimeout int
		address          string
		port             int
		logLevel         string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pork broker",
		Long:  "Run a pork broker node: client-facing RPCs, replication to followers, and leader election",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("zookeeper") {
				cfg.Coordination.Hosts = strings.Split(zookeeper, ",")
			}
			if cmd.Flags().Changed("zookeeper-timeout") {
				cfg.Coordination.Timeout = time.Duration(zookeeperTimeout) * time.Millisecond
			}
			if cmd.Flags().Changed("address") {
				cfg.GRPC.Address = address
			}
			if cmd.Flags().Changed("port") {
				cfg.GRPC.Port = port
			} else if cmd.Flags().Changed("address") {
				if _, p, err := net.SplitHostPort(address); err == nil {
					if n, err := strconv.Atoi(p); err == nil {
						cfg.GRPC.Port = n
					}
				}
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}

			logging.SetLevelFromString(cfg.Observability.Logging.Level)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
			if cfg.Observability.Logging.MessageLogPath != "" {
				if err := logging.Default().SetOutput(cfg.Observability.Logging.MessageLogPath); err != nil {
					logging.Op().Warn("failed to open message log", "error", err)
				}
			}

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			notifier, err := buildNotifier(cfg.Notify)
			if err != nil {
				return err
			}
			defer notifier.Close()

			ctx := context.Background()
			coord := sharedCluster.Connect()
			defer coord.Close()

			dispatcher, err := broker.NewDispatcher(ctx, coord, notifier, cfg.Engine.DefaultPopTimeout, cfg.Engine.IDBlockLowWater)
			if err != nil {
				return fmt.Errorf("init dispatcher: %w", err)
			}

			ctrl, err := replication.NewController(ctx, coord, dispatcher, cfg.GRPC.Address, transport.NewFollowerLink)
			if err != nil {
				return fmt.Errorf("init replication controller: %w", err)
			}
			dispatcher.SetReplicator(ctrl)
			logging.Op().Info("registered broker node", "node_id", ctrl.NodeID(), "address", cfg.GRPC.Address)

			grpcServer := transport.NewServer(dispatcher, dispatcher)
			listenAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
			lis, err := transport.Listen(listenAddr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", listenAddr, err)
			}

			go func() {
				logging.Op().Info("pork broker gRPC server started", "addr", listenAddr)
				if err := grpcServer.Serve(lis); err != nil {
					logging.Op().Error("grpc server error", "error", err)
				}
			}()

			var metricsServer *http.Server
			if cfg.Observability.Metrics.Enabled && cfg.Observability.Metrics.ListenAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.PrometheusHandler())
				mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					w.Write([]byte(`{"status":"ok","service":"pork"}`))
				})
				metricsServer = &http.Server{Addr: cfg.Observability.Metrics.ListenAddr, Handler: mux}
				go func() {
					logging.Op().Info("pork metrics endpoint started", "addr", cfg.Observability.Metrics.ListenAddr)
					if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("metrics server error", "error", err)
					}
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			grpcServer.GracefulStop()
			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				metricsServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&zookeeper, "zookeeper", "localhost:2181", "Comma-separated coordination service hosts")
	cmd.Flags().IntVar(&zookeeperTimeout, "zookeeper-timeout", 3000, "Coordination session timeout in milliseconds")
	cmd.Flags().StringVar(&address, "address", "localhost:7330", "Address advertised to peers and published as the leader endpoint")
	cmd.Flags().IntVar(&port, "port", 7330, "Port to bind the gRPC server on (defaults to the port in --address)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

func buildNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisDSN)
		if err != nil {
			return nil, fmt.Errorf("parse notify redis dsn: %w", err)
		}
		return notify.NewRedisNotifier(redis.NewClient(opts)), nil
	case "channel":
		return notify.NewChannelNotifier(), nil
	default:
		return notify.NewNoopNotifier(), nil
	}
}
