// ABOUTME: HTTP gateway server exposing the RPC core over unary and SSE endpoints
// ABOUTME: Manages listeners (TCP, TLS, Tailscale) and graceful shutdown lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsnet"

	"github.com/zammad-mcp/mcp-zammad/internal/certs"
	"github.com/zammad-mcp/mcp-zammad/internal/config"
	"github.com/zammad-mcp/mcp-zammad/internal/core"
)

// Recorder receives one entry per gateway call for auditing. Implementations
// must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, entry CallRecord) error
}

// CallRecord describes a completed gateway call.
type CallRecord struct {
	ID        string
	Endpoint  string // "call" or "stream"
	Method    string
	ErrorCode int // 0 on success
	Duration  time.Duration
}

// Gateway serves the MCP HTTP surface over a dispatch core.
type Gateway struct {
	config      *config.Config
	core        core.Core
	logger      *slog.Logger
	httpServer  *http.Server
	tsnetServer *tsnet.Server

	// authMiddleware wraps the /mcp/* handlers when auth is configured.
	authMiddleware func(http.Handler) http.Handler

	// recorder is optional; nil disables call auditing.
	recorder Recorder
}

// Option configures optional gateway components.
type Option func(*Gateway)

// WithAuthMiddleware protects the /mcp/* endpoints with the given middleware.
func WithAuthMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(g *Gateway) { g.authMiddleware = mw }
}

// WithRecorder enables call auditing through the given recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// New creates a Gateway serving the given core.
func New(cfg *config.Config, c core.Core, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		config: cfg,
		core:   c,
		logger: logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}

	mux := http.NewServeMux()
	g.RegisterRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// RegisterRoutes registers the gateway endpoints on the mux.
// /health and /catalog are always open; /mcp/* goes through the auth
// middleware when one is configured. CORS sits outside auth so preflight
// requests succeed without a bearer token.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/health", corsMiddleware(http.HandlerFunc(g.handleHealth)))
	mux.Handle("/catalog", corsMiddleware(http.HandlerFunc(g.handleCatalog)))

	wrap := func(h http.HandlerFunc) http.Handler {
		if g.authMiddleware != nil {
			return corsMiddleware(g.authMiddleware(h))
		}
		return corsMiddleware(h)
	}
	mux.Handle("/mcp/call", wrap(g.handleCall))
	mux.Handle("/mcp/stream", wrap(g.handleStream))
}

// corsMiddleware allows cross-origin access from any origin and answers
// OPTIONS preflight requests directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth reports liveness. It never consults the core: a degraded
// upstream should not make the process look dead.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// handleCall serves the unary endpoint. Transport problems (wrong verb, bad
// JSON, missing tool name) surface as HTTP errors; everything past routing is
// a 200 with a result-or-error envelope.
func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	start := time.Now()
	call := parseMethod(req.Method)

	result, err := g.invoke(r.Context(), req.Method, call, req.Params)
	if err != nil {
		// A tools/call without a name is a malformed request, not a
		// capability failure, so it gets an HTTP status.
		if errors.Is(err, ErrMissingToolName) {
			g.audit(r.Context(), "call", req.Method, CodeInvalidParams, start)
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		code := errorCode(err)
		g.logger.Warn("call failed", "method", req.Method, "code", code, "error", err)
		g.audit(r.Context(), "call", req.Method, code, start)
		g.writeEnvelope(w, Response{Error: &ErrorInfo{Code: code, Message: err.Error()}})
		return
	}

	g.audit(r.Context(), "call", req.Method, 0, start)
	g.writeEnvelope(w, Response{Result: result})
}

// handleStream serves the SSE endpoint. Event order is fixed: connected,
// then exactly one of result+done or error, and nothing after a terminal
// event. The legacy tools/call/<name> form is not accepted here.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sessionID := uuid.New().String()
	g.writeSSEEvent(w, "connected", map[string]string{"session_id": sessionID})
	flusher.Flush()

	start := time.Now()
	call := parseMethod(req.Method)
	if call.kind == kindToolsCallLegacy {
		call = methodCall{kind: kindUnknown}
	}

	result, err := g.invoke(r.Context(), req.Method, call, req.Params)

	// Record the outcome before checking for disconnect: a call that
	// completed after the client went away still happened.
	code := 0
	if err != nil {
		code = errorCode(err)
	}
	g.audit(r.Context(), "stream", req.Method, code, start)

	// The client may have gone away during the call; a terminal event
	// written after disconnect is wasted but must not be duplicated.
	if r.Context().Err() != nil {
		g.logger.Debug("stream client disconnected", "session_id", sessionID, "method", req.Method)
		return
	}

	if err != nil {
		g.logger.Warn("stream call failed", "session_id", sessionID, "method", req.Method, "code", code, "error", err)
		g.writeSSEEvent(w, "error", map[string]any{
			"error": map[string]any{"code": code, "message": err.Error()},
		})
		flusher.Flush()
		return
	}

	g.writeSSEEvent(w, "result", result)
	flusher.Flush()
	g.writeSSEEvent(w, "done", map[string]string{"status": "completed"})
	flusher.Flush()
}

// writeEnvelope writes a 200 response envelope.
func (g *Gateway) writeEnvelope(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Error("failed to write response", "error", err)
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response with an HTTP status.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// audit records a completed call when a recorder is configured. The record
// is written even when the request context is already canceled.
func (g *Gateway) audit(ctx context.Context, endpoint, method string, code int, start time.Time) {
	if g.recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	entry := CallRecord{
		ID:        uuid.New().String(),
		Endpoint:  endpoint,
		Method:    method,
		ErrorCode: code,
		Duration:  time.Since(start),
	}
	if err := g.recorder.Record(ctx, entry); err != nil {
		g.logger.Warn("audit record failed", "method", method, "error", err)
	}
}

// setupListener creates the listener based on configuration.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// setupTCPListener creates a plain or TLS TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	addr := g.config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	if !g.config.TLS.Enabled {
		g.logger.Info("listening", "addr", addr)
		return ln, nil
	}

	tlsConfig, err := g.loadTLSConfig()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	g.logger.Info("listening with TLS", "addr", addr)
	return tls.NewListener(ln, tlsConfig), nil
}

// loadTLSConfig loads the configured cert pair, generating a self-signed one
// when tls.generate is set and no pair is provided.
func (g *Gateway) loadTLSConfig() (*tls.Config, error) {
	certFile := g.config.TLS.CertFile
	keyFile := g.config.TLS.KeyFile

	if certFile == "" || keyFile == "" {
		host := g.config.Server.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		pair, err := certs.Ensure(host, g.config.TLS.CertDir)
		if err != nil {
			return nil, fmt.Errorf("generating self-signed certificate: %w", err)
		}
		certFile, keyFile = pair.CertFile, pair.KeyFile
		g.logger.Info("using self-signed certificate", "cert", certFile)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// resolveTailscaleStateDir returns the state directory, using a default
// under the user's home when not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "mcp-zammad", "tailscale"), nil
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

// setupTailscaleListener joins the tailnet and listens on the HTTP port.
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

	var tsAddr string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	}
	g.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr)

	ln, err := g.tsnetServer.Listen("tcp", fmt.Sprintf(":%d", g.config.Server.Port))
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale port: %w", err)
	}
	return ln, nil
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
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

// Shutdown gracefully stops the HTTP server and the tailscale node.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		g.logger.Error("HTTP server shutdown error", "error", err)
		firstErr = err
	}

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			g.logger.Error("tailscale shutdown error", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return firstErr
	}
	g.logger.Info("gateway shutdown complete")
	return nil
}
