package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/influix/influix/internal/api"
	"github.com/influix/influix/internal/completion"
	"github.com/influix/influix/internal/config"
	"github.com/influix/influix/internal/inference"
	"github.com/influix/influix/internal/insight"
	"github.com/influix/influix/internal/ollama"
	"github.com/influix/influix/internal/prompts"
	"github.com/influix/influix/internal/provider"
	"github.com/influix/influix/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the influix server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running influix server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show influix system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "influix.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// newEngine wires the configured provider into a retrying completion client
// and an inference engine over the embedded prompt catalog.
func newEngine(ctx context.Context, cfg config.Config) (*inference.Engine, error) {
	p, err := provider.New(ctx, provider.Config{
		Name:    cfg.Model.Provider,
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", cfg.Model.Provider, err)
	}
	client := completion.New(p, completion.Defaults{
		Model:       cfg.Model.DefaultModel,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		MaxRetries:  cfg.Model.MaxRetries,
		BaseDelay:   cfg.Model.RetryBaseDelay,
	})
	return inference.New(prompts.Default(), client), nil
}

// openStore picks PostgreSQL when a DSN is configured and SQLite otherwise.
func openStore(cfg config.Config) (*storage.Store, error) {
	if cfg.Storage.DSN != "" {
		return storage.Open(cfg.Storage.DSN)
	}
	return storage.Open(cfg.Storage.DataDir)
}

// ensureAPIToken returns the configured bearer token, generating and
// persisting one on first start.
func ensureAPIToken(cfg *config.Config) error {
	if cfg.API.Token != "" {
		return nil
	}
	token := rand.Text()
	if err := config.SetKey("api.token", token); err != nil {
		return err
	}
	cfg.API.Token = token
	slog.Info("generated API bearer token and stored it in the secrets file")
	return nil
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "influix version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := ensureAPIToken(&cfg); err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("influix is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("influix is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Model.Provider == "ollama" {
		base := cfg.Model.BaseURL
		if base == "" {
			base = provider.DefaultOllamaURL
		}
		if err := ollama.EnsureReady(ctx, ollama.New(base), cfg.Model.DefaultModel, os.Stderr); err != nil {
			return err
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	engine, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	catalog := prompts.Default()
	manager := insight.NewManager(store, engine, catalog, insight.Config{
		Timeout:    cfg.Analysis.Timeout,
		Confidence: cfg.Analysis.Confidence,
	})

	handler := api.NewAppHandler(api.AppDeps{
		Store:    store,
		Engine:   engine,
		Catalog:  catalog,
		Insights: manager,
		Token:    cfg.API.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if n, err := store.RequeueRunningJobs(); err != nil {
		return fmt.Errorf("requeueing interrupted jobs: %w", err)
	} else if n > 0 {
		slog.Info("requeued interrupted analysis jobs", "count", n)
	}

	workerDone := make(chan struct{})
	worker := insight.NewWorker(store, manager, 500*time.Millisecond, cfg.Analysis.Workers)
	go func() {
		worker.Run(ctx)
		close(workerDone)
	}()
	slog.Info("insight workers started", "workers", cfg.Analysis.Workers)

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Engine:  engine,
			Catalog: catalog,
			Store:   store,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("influix listening", "addr", addr, "provider", cfg.Model.Provider, "model", cfg.Model.DefaultModel)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// Interrupted jobs are retried on the next start.
	stop()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		slog.Warn("insight workers did not stop in time")
	}
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("influix is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop influix (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to influix (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	var health struct {
		Jobs map[string]int `json:"jobs"`
	}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
	} else {
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	}

	printStatus("Provider", "%s", cfg.Model.Provider)
	printStatus("Model", "%s", cfg.Model.DefaultModel)
	if cfg.Model.Provider == "ollama" {
		base := cfg.Model.BaseURL
		if base == "" {
			base = provider.DefaultOllamaURL
		}
		if ollama.New(base).IsRunning(ctx) {
			printStatus("Ollama", "running at %s", base)
		} else {
			printStatus("Ollama", "not running")
		}
	} else if cfg.Model.APIKey == "" {
		printStatus("API key", "%s", colorize(colorRed, "missing"))
	}

	if running {
		c := &apiClient{baseURL: serverURL, token: cfg.API.Token, httpClient: client}
		if resp, err := c.get(ctx, fmt.Sprintf("/content?limit=%d", 100)); err == nil {
			var page struct {
				Content []struct {
					ID string `json:"id"`
				} `json:"content"`
			}
			if decodeJSON(resp, &page) == nil {
				printStatus("Content", "%s", countLabel(len(page.Content), 100))
			}
		}
		printStatus("Jobs", "%s", jobsLabel(health.Jobs))
	}

	if cfg.Storage.DSN != "" {
		printStatus("Storage", "postgres")
	} else {
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
	}
	return nil
}

func jobsLabel(jobs map[string]int) string {
	return fmt.Sprintf("%d pending, %d running, %d failed",
		jobs["pending"], jobs["running"], jobs["failed"])
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
