// ABOUTME: Gateway orchestrator that wires the broker, front-ends, ledger and HTTP server
// ABOUTME: Manages listener setup (TCP or tailnet), health endpoints, and shutdown lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/trellis-gateway/internal/broker"
	"github.com/2389/trellis-gateway/internal/config"
	"github.com/2389/trellis-gateway/internal/dedupe"
	"github.com/2389/trellis-gateway/internal/protocol"
	"github.com/2389/trellis-gateway/internal/rest"
	"github.com/2389/trellis-gateway/internal/store"
)

// Version is reported by GET /mcp. Overridden at build time.
var Version = "dev"

// Gateway orchestrates the trellis-gateway server components.
type Gateway struct {
	config      *config.Config
	broker      *broker.Broker
	ledger      store.CallStore               // nil when the ledger is disabled
	replay      *dedupe.Cache[broker.Outcome] // nil when replay_ttl is zero
	protocol    *protocol.Server
	api         *rest.API
	mux         *http.ServeMux
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initLedger opens the call ledger when enabled. TRELLIS_LEDGER_PATH overrides the configured path.
func initLedger(cfg *config.Config) (store.CallStore, error) {
	if !cfg.Ledger.Enabled {
		return nil, nil
	}
	path := cfg.Ledger.Path
	if envPath := os.Getenv("TRELLIS_LEDGER_PATH"); envPath != "" {
		path = envPath
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}
	return s, nil
}

// seedCredentials adds the configured credentials to the broker.
func seedCredentials(b *broker.Broker, creds []config.CredentialConfig, logger *slog.Logger) error {
	for i, c := range creds {
		if c.Value == "" {
			logger.Warn("skipping credential without value", "index", i, "provider", c.Provider)
			continue
		}
		added, err := b.AddCredential(broker.Credential{
			Name:     c.Name,
			Provider: c.Provider,
			Type:     c.Type,
			Value:    c.Value,
		})
		if err != nil {
			return fmt.Errorf("seeding credentials[%d]: %w", i, err)
		}
		logger.Info("credential seeded",
			"credential_id", added.CredentialID,
			"provider", c.Provider,
			"linked", added.LinkedResources,
		)
	}
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b, err := broker.New(broker.Config{
		Resources: cfg.Catalog(),
		Timeout:   cfg.Broker.CallTimeout,
		Logger:    logger.With("component", "broker"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating broker: %w", err)
	}

	if err := seedCredentials(b, cfg.Credentials, logger.With("component", "broker")); err != nil {
		return nil, err
	}

	ledger, err := initLedger(cfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config: cfg,
		broker: b,
		ledger: ledger,
		logger: logger.With("component", "gateway"),
	}

	protoCfg := protocol.Config{
		Broker:  b,
		Logger:  logger.With("component", "protocol"),
		Version: Version,
	}
	if ledger != nil {
		protoCfg.Recorder = ledger
	}
	if cfg.Broker.ReplayTTL > 0 {
		gw.replay = dedupe.New[broker.Outcome](cfg.Broker.ReplayTTL, cfg.Broker.ReplaySize)
		protoCfg.Replay = gw.replay
	}
	gw.protocol, err = protocol.NewServer(protoCfg)
	if err != nil {
		gw.closeReplay()
		_ = gw.closeLedger()
		return nil, fmt.Errorf("creating protocol server: %w", err)
	}

	gw.api, err = rest.New(rest.Config{
		Broker: b,
		Ledger: ledger,
		Logger: logger.With("component", "rest"),
	})
	if err != nil {
		gw.closeReplay()
		_ = gw.closeLedger()
		return nil, fmt.Errorf("creating REST API: %w", err)
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.protocol.RegisterRoutes(mux)
	gw.api.RegisterRoutes(mux)
	gw.mux = mux

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ledger != nil {
		logger.Info("call ledger enabled", "path", cfg.Ledger.Path)
	}

	return gw, nil
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// Broker returns the gateway's broker.
func (g *Gateway) Broker() *broker.Broker {
	return g.broker
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// warnIgnoredAddress logs a warning if a server address is configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddress() {
	if g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddress()
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "trellis-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) closeLedger() error {
	if g.ledger == nil {
		return nil
	}
	err := g.ledger.Close()
	g.ledger = nil
	return err
}

func (g *Gateway) closeReplay() {
	if g.replay == nil {
		return
	}
	g.replay.Close()
	g.replay = nil
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "ledger close", g.closeLedger())
	g.closeReplay()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one resource is callable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	callable := 0
	for _, res := range g.broker.ListResources() {
		if res.Callable() {
			callable++
		}
	}
	if callable == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no callable resources"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d callable resources)", callable)
}
