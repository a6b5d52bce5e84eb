package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jayyu23/x402-zkid/config"
	httpapi "github.com/jayyu23/x402-zkid/http-api"
	"github.com/jayyu23/x402-zkid/logger"
	mcpserver "github.com/jayyu23/x402-zkid/mcp"
	"github.com/jayyu23/x402-zkid/metrics"
	"github.com/jayyu23/x402-zkid/x402"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the payment-gated HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	zl, err := logger.NewZapLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.With(map[string]any{"service": "x402-zkid", "version": version})

	payTo, closeStore, err := resolvePayee(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("resolving payee: %w", err)
	}
	defer closeStore()

	reg, err := x402.NewRegistry(cfg.Routes, x402.WithDefaultPayTo(payTo))
	if err != nil {
		return err
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	var prom *metrics.PrometheusRecorder
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheusRecorder()
		rec = prom
	}

	facilitator := newFacilitatorClient(cfg, log)
	if cfg.Facilitator.Mode == config.ModeRemote {
		warnUnsupported(ctx, facilitator, reg, log)
	}

	verifier, err := buildVerifier(cfg, reg, facilitator, log, rec)
	if err != nil {
		return err
	}
	gate, err := x402.NewGate(reg, verifier,
		x402.WithTimeout(cfg.VerifyTimeout()),
		x402.WithLogger(log),
		x402.WithMetrics(rec),
	)
	if err != nil {
		return err
	}

	var settler x402.Settler
	if cfg.Facilitator.Settle && cfg.Facilitator.Mode == config.ModeRemote {
		settler = facilitator
	}

	startedAt := time.Now()
	publicURL := cfg.Server.PublicURL
	if publicURL == "" {
		publicURL = localURL(cfg.Server.Listen)
	}
	var mcpSrv *mcpserver.Server
	if cfg.MCP.Enabled {
		items := x402.Discover(reg, publicURL, startedAt).Items
		mcpSrv = mcpserver.NewServer(items, mcpserver.WithLogger(log))
	}

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.Options{
		Gate:        gate,
		Settler:     settler,
		Logger:      log,
		Metrics:     prom,
		MetricsPath: cfg.Metrics.Path,
		MCP:         mcpSrv,
		MCPPath:     cfg.MCP.Path,
		PublicURL:   cfg.Server.PublicURL,
		StartedAt:   startedAt,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", map[string]any{
			"addr":        cfg.Server.Listen,
			"payee":       payTo,
			"routes":      len(reg.Routes()),
			"facilitator": facilitator.URL(),
			"mode":        cfg.Facilitator.Mode,
			"settle":      settler != nil,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// warnUnsupported asks the facilitator which pairs it handles. Failures are
// only logged: the facilitator may come up after we do.
func warnUnsupported(ctx context.Context, f *x402.FacilitatorClient, reg *x402.Registry, log logger.Logger) {
	supported, err := f.Supported(ctx)
	if err != nil {
		log.Warn("facilitator /supported unavailable", map[string]any{"error": err.Error()})
		return
	}
	kinds := map[pair]bool{}
	for _, k := range supported.Kinds {
		kinds[pair{k.Scheme, k.Network}] = true
	}
	for _, p := range schemeNetworks(reg) {
		if !kinds[p] {
			log.Warn("facilitator does not list scheme/network", map[string]any{
				"scheme":  p.scheme,
				"network": p.network,
			})
		}
	}
}

func localURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}
