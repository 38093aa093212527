// ABOUTME: Gateway orchestrator that wires store, bus, conversation service and HTTP server
// ABOUTME: Manages listener setup (TCP or Tailscale), graceful shutdown and health endpoints

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

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/bus"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/moderation"
	"github.com/2389/parley/internal/search"
	"github.com/2389/parley/internal/store"
)

// defaultPingInterval is how often an idle SSE stream gets a keepalive comment.
const defaultPingInterval = 25 * time.Second

// Gateway owns every server-side component of parley.
type Gateway struct {
	config       *config.Config
	store        store.MessageStore
	hub          *bus.Hub
	bus          bus.Bus
	conversation *conversation.Service
	verifier     *auth.JWTVerifier
	index        *search.Index
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	// streams is cancelled on shutdown so open SSE responses return
	streams       context.Context
	cancelStreams context.CancelFunc

	pingInterval time.Duration
}

// initStore opens the configured message store.
func initStore(ctx context.Context, cfg *config.Config) (store.MessageStore, error) {
	target := cfg.Database.Path
	if cfg.Database.Driver == config.DriverPostgres {
		target = cfg.Database.DSN
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s, err := store.Open(ctx, cfg.Database.Driver, target)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initBus returns the bus the service publishes to and streams subscribe on.
func initBus(cfg *config.Config, hub *bus.Hub, logger *slog.Logger) bus.Bus {
	if cfg.Bus.Mode != config.BusModeRemote {
		return hub
	}
	logger.Info("using remote relay bus", "relay_url", cfg.Bus.RelayURL)
	return bus.NewRemoteBus(bus.RemoteConfig{
		BaseURL:    cfg.Bus.RelayURL,
		Secret:     cfg.Bus.RelaySecret,
		BufferSize: cfg.Bus.BufferSize,
		Logger:     logger,
	})
}

// initModerator builds the word filter when moderation is enabled.
func initModerator(cfg config.ModerationConfig) (*moderation.Moderator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	mask := moderation.DefaultMask
	if r := []rune(cfg.CensorChar); len(r) > 0 {
		mask = r[0]
	}
	m, err := moderation.New(cfg.CensoredWords, mask)
	if err != nil {
		return nil, fmt.Errorf("building moderator: %w", err)
	}
	return m, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	hub := bus.NewHub(cfg.Bus.BufferSize, logger)
	b := initBus(cfg, hub, logger)
	svc := conversation.New(s, b, cfg.Operator.ID, logger)

	moderator, err := initModerator(cfg.Moderation)
	if err != nil {
		hub.Close()
		_ = s.Close()
		return nil, err
	}
	if moderator != nil {
		svc.SetModerator(moderator)
		logger.Info("moderation enabled", "words", len(cfg.Moderation.CensoredWords))
	}

	var index *search.Index
	if cfg.Search.Enabled {
		index, err = search.Open(cfg.Search.Path, logger)
		if err != nil {
			hub.Close()
			_ = s.Close()
			return nil, fmt.Errorf("opening search index: %w", err)
		}
		svc.SetIndex(index)
		if err := svc.RebuildIndex(ctx); err != nil {
			logger.Warn("search index rebuild failed", "error", err)
		}
	}

	streams, cancelStreams := context.WithCancel(context.Background())

	gw := &Gateway{
		config:        cfg,
		store:         s,
		hub:           hub,
		bus:           b,
		conversation:  svc,
		verifier:      verifier,
		index:         index,
		logger:        logger.With("component", "gateway"),
		streams:       streams,
		cancelStreams: cancelStreams,
		pingInterval:  defaultPingInterval,
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	gw.httpServer.RegisterOnShutdown(cancelStreams)

	return gw, nil
}

// Handler returns the HTTP handler serving the API, stream and health routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Verifier returns the session verifier, which can also mint operator tokens.
func (g *Gateway) Verifier() *auth.JWTVerifier {
	return g.verifier
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
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
	return filepath.Join(homeDir, ".local", "share", "parley", "tailscale"), nil
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

// setupTailscaleListener starts a tsnet node and listens on :80, or :443 with tailnet certificates.
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

	if tsCfg.HTTPS {
		return g.createTailscaleTLSListener()
	}
	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
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

// Shutdown gracefully stops the HTTP server and releases resources.
// Open event streams are ended first so they don't hold the server open.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "hub_dropped", g.hub.Dropped())

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.hub.Close()
	if g.index != nil {
		errs = appendCloseError(errs, "search index close", g.index.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the message store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var err error
	if p, ok := g.store.(store.Pinger); ok {
		err = p.Ping(ctx)
	} else {
		_, err = g.store.Count(ctx)
	}
	if err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
