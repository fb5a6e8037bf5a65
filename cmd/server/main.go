package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-pulse/internal/actions"
	"github.com/aaronlmathis/kaptn-pulse/internal/aggregator"
	"github.com/aaronlmathis/kaptn-pulse/internal/api"
	"github.com/aaronlmathis/kaptn-pulse/internal/config"
	"github.com/aaronlmathis/kaptn-pulse/internal/gitops"
	"github.com/aaronlmathis/kaptn-pulse/internal/history"
	"github.com/aaronlmathis/kaptn-pulse/internal/k8s/client"
	"github.com/aaronlmathis/kaptn-pulse/internal/k8s/resources"
	"github.com/aaronlmathis/kaptn-pulse/internal/logging"
	"github.com/aaronlmathis/kaptn-pulse/internal/policy"
	"github.com/aaronlmathis/kaptn-pulse/internal/scheduler"
	"github.com/aaronlmathis/kaptn-pulse/internal/snapshot"
	"github.com/aaronlmathis/kaptn-pulse/internal/version"
	"github.com/aaronlmathis/kaptn-pulse/internal/ws"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kaptn-pulse",
		Short: "Aggregated GitOps and cluster status for dashboards",
		Long: `kaptn-pulse polls a GitOps controller and a Kubernetes cluster, merges both
into one snapshot per cycle and serves it over HTTP and WebSocket. An unreachable
backend is replaced by an example dataset so the dashboard always renders.`,
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("KAD_CONFIG"), "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	info := version.Get()
	logger.Info("Starting kaptn-pulse", append(info.Fields(), zap.String("addr", cfg.Server.Addr))...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory, err := client.NewFactory(logger, client.ClientMode(cfg.Cluster.Mode), cfg.Cluster.KubeconfigPath, client.Options{
		QPS:     cfg.Cluster.QPS,
		Burst:   cfg.Cluster.Burst,
		Timeout: cfg.Cluster.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create kubernetes clients: %w", err)
	}
	validateCtx, cancelValidate := context.WithTimeout(ctx, cfg.Cluster.RequestTimeout)
	if err := factory.ValidateConnection(validateCtx); err != nil {
		// not fatal: the cluster half degrades until the API becomes reachable
		logger.Warn("Cluster API not reachable at startup", zap.Error(err))
	}
	cancelValidate()

	gitopsClient := gitops.NewClient(gitops.Options{
		BaseURL:   cfg.GitOps.URL,
		Token:     cfg.GitOps.Token,
		Username:  cfg.GitOps.Username,
		Password:  cfg.GitOps.Password,
		Insecure:  cfg.GitOps.Insecure,
		Timeout:   cfg.GitOps.RequestTimeout,
		UserAgent: cfg.GitOps.UserAgent,
	}, logger)
	if !cfg.GitOps.HasCredentials() {
		logger.Warn("No GitOps credentials configured, application and project lists will fail authentication")
	}

	source := resources.NewSource(logger, factory.Client(), factory.MetricsClient())
	agg := aggregator.New(gitopsClient, source, policy.New(cfg.Degradation.SyntheticDir, logger), aggregator.Options{
		FetchTimeout:           cfg.Aggregation.FetchTimeout,
		Namespace:              cfg.Cluster.Namespace,
		AssumedCPUMillicores:   cfg.Degradation.AssumedCPUMillicores,
		AssumedMemoryMebibytes: cfg.Degradation.AssumedMemoryMebibytes,
		UseReportedCapacity:    cfg.Degradation.UseReportedCapacity,
	}, logger)

	poller := scheduler.NewPoller(agg, scheduler.Config{
		GitOpsInterval:  cfg.GitOps.PollInterval,
		ClusterInterval: cfg.Cluster.PollInterval,
	}, logger)

	hub := ws.NewHub(cfg.Server.MaxStreamClients, logger)
	go hub.Run(ctx)
	stats := history.NewStore(cfg.Aggregation.HistoryPoints, logger)
	poller.Subscribe(func(s snapshot.AggregatedSnapshot) {
		stats.Record(s)
		hub.Publish(s)
	})

	actionService := actions.NewService(gitopsClient, poller, cfg.Aggregation.RefreshDelay, logger)
	apiServer := api.NewServer(logger, cfg, poller, actionService, hub, stats)
	apiServer.Start(ctx)

	poller.Start(ctx)
	defer poller.Stop()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.Server.Addr), zap.Bool("tls", cfg.Server.TLS.Enabled))
		var err error
		if cfg.Server.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Server shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}
