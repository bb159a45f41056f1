// ABOUTME: Entry point for the mcp-zammad server
// ABOUTME: Bridges Zammad ticket operations to MCP clients over stdio or HTTP

package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/zammad-mcp/mcp-zammad/internal/audit"
	"github.com/zammad-mcp/mcp-zammad/internal/auth"
	"github.com/zammad-mcp/mcp-zammad/internal/config"
	"github.com/zammad-mcp/mcp-zammad/internal/core"
	"github.com/zammad-mcp/mcp-zammad/internal/gateway"
	"github.com/zammad-mcp/mcp-zammad/internal/stdio"
	"github.com/zammad-mcp/mcp-zammad/internal/zammad"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _ __ ___   ___ _ __     ______ _ _ __ ___  _ __ ___   __ _  __| |
 | '_ ' _ \ / __| '_ \   |_  / _' | '_ ' _ \| '_ ' _ \ / _' |/ _' |
 | | | | | | (__| |_) |   / / (_| | | | | | | | | | | | (_| | (_| |
 |_| |_| |_|\___| .__/   /___\__,_|_| |_| |_|_| |_| |_|\__,_|\__,_|
                |_|
`

// getConfigPath returns the path to the config file.
// Priority: MCP_ZAMMAD_CONFIG env var > XDG_CONFIG_HOME/mcp-zammad/config.yaml > ~/.config/mcp-zammad/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MCP_ZAMMAD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mcp-zammad", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mcp-zammad <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve [--mode MODE]  Start the server (mode: stdio or http)")
		fmt.Println("  init                 Create a new config file interactively")
		fmt.Println("  health               Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseModeFlag extracts an optional --mode override from serve arguments.
func parseModeFlag(args []string) (string, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--mode" || arg == "-m":
			if i+1 >= len(args) {
				return "", fmt.Errorf("--mode requires a value")
			}
			return args[i+1], nil
		case strings.HasPrefix(arg, "--mode="):
			return strings.TrimPrefix(arg, "--mode="), nil
		case strings.HasPrefix(arg, "-"):
			return "", fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return "", nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	mode, err := parseModeFlag(os.Args[2:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if mode != "" {
		cfg.Mode = mode
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}
	}

	if cfg.Mode == "stdio" {
		return runStdio(ctx, cfg)
	}
	return runHTTP(ctx, cfg, configPath)
}

// runStdio serves the MCP protocol over stdin/stdout. Logs go to stderr
// since stdout carries the protocol stream.
func runStdio(ctx context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg.Logging, os.Stderr)

	client := zammad.New(cfg.Zammad.URL, cfg.Zammad.Token, cfg.Zammad.Timeout)
	c := core.NewServer(client, logger)
	defer c.Close()

	logger.Info("starting mcp-zammad", "mode", "stdio", "zammad_url", cfg.Zammad.URL)
	return stdio.New(c, logger, os.Stdin, os.Stdout).Run(ctx)
}

// runHTTP serves the MCP protocol over the HTTP gateway.
func runHTTP(ctx context.Context, cfg *config.Config, configPath string) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Zammad:    %s\n", cfg.Zammad.URL)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.Addr())

	if cfg.TLS.Enabled {
		green.Print("    ▶ ")
		fmt.Print("TLS:       enabled")
		if cfg.TLS.Generate && cfg.TLS.CertFile == "" {
			gray.Print(" (self-signed)")
		}
		fmt.Println()
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ▶ Auth:      disabled (no jwt_secret configured)")
	}

	fmt.Println()

	logger.Info("starting mcp-zammad",
		"config", configPath,
		"mode", "http",
		"addr", cfg.Server.Addr(),
	)

	client := zammad.New(cfg.Zammad.URL, cfg.Zammad.Token, cfg.Zammad.Timeout)
	c := core.NewServer(client, logger)
	defer c.Close()

	if err := c.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing core: %w", err)
	}

	var opts []gateway.Option

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating JWT verifier: %w", err)
		}
		opts = append(opts, gateway.WithAuthMiddleware(auth.HTTPAuthMiddleware(verifier)))
		logger.Info("JWT auth enabled on /mcp endpoints")
	}

	if cfg.Audit.Path != "" {
		log, err := audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer log.Close()
		opts = append(opts, gateway.WithRecorder(log))
	}

	gw := gateway.New(cfg, c, logger, opts...)
	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = &colorHandler{
			level: level,
			out:   w,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	out    io.Writer
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(h.out, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		out:    h.out,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		out:    h.out,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// healthURL builds the probe target for the health subcommand. Tailscale
// serves plain HTTP inside the tailnet, so the probe goes to the tailnet
// hostname and only works from a machine on the same tailnet.
func healthURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		return fmt.Sprintf("http://%s:%d/health", cfg.Tailscale.Hostname, cfg.Server.Port)
	}
	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/health", scheme, cfg.Server.Addr())
}

// healthClient returns the HTTP client for the health probe. With TLS the
// server usually runs on a self-signed pair from internal/certs, so the
// probe skips chain verification.
func healthClient(cfg *config.Config) *http.Client {
	client := &http.Client{Timeout: 10 * time.Second}
	if cfg.TLS.Enabled {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := healthClient(cfg).Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("mcp-zammad configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Zammad Configuration ---")
	zammadURL := prompt(reader, "Zammad URL (e.g. https://company.zammad.com)", "")
	zammadToken := prompt(reader, "Zammad API token (leave empty to use ${ZAMMAD_TOKEN})", "")
	if zammadToken == "" {
		zammadToken = "${ZAMMAD_TOKEN}"
	}

	fmt.Println("\n--- Server Configuration ---")
	mode := prompt(reader, "Mode (stdio/http)", "stdio")
	host := prompt(reader, "HTTP host", "127.0.0.1")
	port := prompt(reader, "HTTP port", "8080")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# mcp-zammad configuration\n")
	cfg.WriteString("# Generated by mcp-zammad init\n\n")

	cfg.WriteString(fmt.Sprintf("mode: \"%s\"\n\n", mode))

	cfg.WriteString("zammad:\n")
	cfg.WriteString(fmt.Sprintf("  url: \"%s\"\n", zammadURL))
	cfg.WriteString(fmt.Sprintf("  token: \"%s\"\n", zammadToken))
	cfg.WriteString("  timeout: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  host: \"%s\"\n", host))
	cfg.WriteString(fmt.Sprintf("  port: %s\n", port))
	cfg.WriteString("\n")

	cfg.WriteString("tls:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  generate: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString("  jwt_secret: \"\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("audit:\n")
	cfg.WriteString("  path: \"\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  mcp-zammad serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
