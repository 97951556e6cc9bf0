package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/1314ysys/WebTerminalTool/internal/audit"
	"github.com/1314ysys/WebTerminalTool/internal/bridge"
	"github.com/1314ysys/WebTerminalTool/internal/config"
	"github.com/1314ysys/WebTerminalTool/internal/database"
	"github.com/1314ysys/WebTerminalTool/internal/handlers"
	"github.com/1314ysys/WebTerminalTool/internal/logging"
	"github.com/1314ysys/WebTerminalTool/internal/metrics"
	"github.com/1314ysys/WebTerminalTool/internal/middleware"
	"github.com/1314ysys/WebTerminalTool/internal/scheduler"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "webterm",
		Short:        "Browser terminal gateway for SSH and Telnet hosts",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer()
		},
	}
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAuditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal gateway (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer()
		},
	}
}

func newAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Session audit log maintenance",
	}

	var days int
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			if err := config.Load(); err != nil {
				return err
			}
			if err := database.Init(); err != nil {
				return fmt.Errorf("database init: %w", err)
			}
			defer database.Close()

			auditor, err := audit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
			if err != nil {
				return err
			}
			deleted, err := auditor.PurgeOlderThan(days)
			if err != nil {
				return err
			}
			if days == 0 {
				days = auditor.RetentionDays()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit entries older than %d days.\n", deleted, days)
			return nil
		},
	}
	purgeCmd.Flags().IntVar(&days, "days", 0, "retention in days (default WEBTERM_AUDIT_RETENTION_DAYS)")
	auditCmd.AddCommand(purgeCmd)
	return auditCmd
}

func runServer() error {
	if err := config.Load(); err != nil {
		return err
	}

	logging.Init(config.Cfg.LogPath)
	defer logging.Close()

	if err := database.Init(); err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer database.Close()

	auditor, err := audit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
	if err != nil {
		log.Printf("WARNING: audit disabled: %v", err)
		auditor = nil
	}

	registry := bridge.NewRegistry()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(promReg, registry)
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	log.Printf("Config: Listen=%s, SSHTimeout=%s, TelnetTimeout=%s, PollInterval=%s, PendingTimeout=%s, Debug=%v",
		config.Cfg.ListenAddr, config.Cfg.SSHTimeout, config.Cfg.TelnetTimeout,
		config.Cfg.PollInterval, config.Cfg.PendingTimeout, config.Cfg.Debug)

	if config.Cfg.AdminToken == "" {
		log.Printf("WEBTERM_ADMIN_TOKEN not set; /api/v1 endpoints are disabled")
	}

	sched := scheduler.New()
	if err := sched.Every(time.Minute, "stale-session-sweep", func() {
		if n := registry.SweepStale(config.Cfg.PendingTimeout); n > 0 {
			log.Printf("Closed %d sessions never attached within %s", n, config.Cfg.PendingTimeout)
		}
	}); err != nil {
		return err
	}
	if auditor != nil {
		if err := sched.Add("@daily", "audit-purge", func() {
			deleted, err := auditor.PurgeOlderThan(0)
			if err != nil {
				log.Printf("Audit purge failed: %v", err)
				return
			}
			log.Printf("Audit purge removed %d entries", deleted)
		}); err != nil {
			return err
		}
	}
	sched.Start()

	r := chi.NewRouter()
	r.Use(middleware.RedactQuery("id"))
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	handlers.New(registry, auditor, m).Routes(r)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-sigCtx.Done():
	case err := <-errCh:
		sched.Stop(context.Background())
		registry.CloseAll(bridge.ReasonServerShutdown)
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown: %v", err)
	}
	if n := registry.CloseAll(bridge.ReasonServerShutdown); n > 0 {
		log.Printf("Closed %d terminal sessions", n)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Println("Server stopped")
	return nil
}
