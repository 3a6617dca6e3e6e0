package main

import (
	"context"
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

	"github.com/kalambet/whatson/internal/api"
	"github.com/kalambet/whatson/internal/chat"
	"github.com/kalambet/whatson/internal/composer"
	"github.com/kalambet/whatson/internal/config"
	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/extract"
	"github.com/kalambet/whatson/internal/ingest"
	"github.com/kalambet/whatson/internal/intent"
	"github.com/kalambet/whatson/internal/normalize"
	"github.com/kalambet/whatson/internal/policy"
	"github.com/kalambet/whatson/internal/profile"
	"github.com/kalambet/whatson/internal/search"
	"github.com/kalambet/whatson/internal/source"
	"github.com/kalambet/whatson/internal/storage"
)

const (
	workerPollInterval = 500 * time.Millisecond
	reaperInterval     = time.Minute
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the whatson server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running whatson server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whatson system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve the MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "whatson.pid")
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

// newLogger builds the process logger from log.level and log.format.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "whatson version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.API.Token == "" {
		slog.Warn("WHATSON_API_TOKEN is not set; the API accepts unauthenticated requests", "addr", cfg.Addr())
	}

	// Refuse to start twice. The health endpoint is the source of truth;
	// the PID file only names the process.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("whatson is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("whatson is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{
		Provider:          cfg.LLM.Provider,
		OllamaBaseURL:     cfg.Ollama.BaseURL,
		OpenRouterAPIKey:  cfg.OpenRouter.APIKey,
		OpenRouterBaseURL: cfg.OpenRouter.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	fastModel, chatModel := cfg.Ollama.FastModel, cfg.Ollama.ChatModel
	if cfg.LLM.Provider == "openrouter" {
		fastModel, chatModel = cfg.OpenRouter.Model, cfg.OpenRouter.Model
	}
	if mm, ok := eng.(engine.ModelManager); ok {
		if err := engine.EnsureReady(ctx, mm, []string{fastModel, chatModel}, os.Stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	sources, err := source.OpenRegistry(cfg.Ingest.SourcesFile)
	if err != nil {
		return fmt.Errorf("loading sources: %w", err)
	}
	slog.Info("sources loaded", "path", cfg.Ingest.SourcesFile, "count", len(sources.All()))
	go func() {
		if err := sources.Watch(ctx); err != nil {
			slog.Warn("sources file watch disabled", "path", cfg.Ingest.SourcesFile, "error", err)
		}
	}()

	// Ingestion.
	gate := policy.NewGate(policy.Options{
		UserAgent:   cfg.Ingest.UserAgent,
		RobotsTTL:   cfg.Policy.RobotsTTL,
		DefaultRate: cfg.Policy.DefaultRate,
		Logger:      logger,
	})
	fetcher := extract.NewFetcher(extract.Options{
		UserAgent: cfg.Ingest.UserAgent,
		Logger:    logger,
	})
	normalizer := normalize.New(eng, normalize.Options{
		Model:           fastModel,
		MaxContentChars: cfg.Normalize.MaxContentChars,
		Logger:          logger,
	})
	coordinator := ingest.NewCoordinator(gate, fetcher, normalizer, store, ingest.Options{
		Concurrency:   cfg.Ingest.Concurrency,
		SourceTimeout: cfg.Ingest.SourceTimeout,
		Logger:        logger,
	})

	worker := ingest.NewWorker(store, sources, coordinator, workerPollInterval)
	go worker.Run(ctx)

	scheduler := ingest.NewScheduler(store, sources, cfg.Ingest.ScheduleInterval)
	go scheduler.Run(ctx)

	// Query.
	executor := search.NewExecutor(store, search.Options{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
	})
	parser := intent.NewParser(intent.NewExtractor(eng, fastModel))
	profiles := profile.NewManager(store)
	orchestrator := chat.New(eng, executor, composer.New(0), profiles, chat.Options{
		Model:        chatModel,
		MaxToolDepth: cfg.Chat.MaxToolDepth,
		ToolTimeout:  cfg.Chat.ToolTimeout,
		IdleTimeout:  cfg.Chat.IdleTimeout,
		Logger:       logger,
	})
	go orchestrator.RunReaper(ctx, reaperInterval)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.AppDeps{
			Store:       store,
			Search:      executor,
			Parser:      parser,
			Chat:        orchestrator,
			Coordinator: coordinator,
			Sources:     sources,
			Profile:     profiles,
			Token:       cfg.API.Token,
		}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// The MCP transport owns stdout, so it is opt-in.
	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:  store,
			Search: executor,
			Parser: parser,
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
		fmt.Fprintf(os.Stderr, "whatson listening on %s\n", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	return srv.Shutdown(shutdownCtx)
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
		printError("whatson is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop whatson (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to whatson (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	base := serverURL(cfg)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(base + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s", cfg.Addr())
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM provider", "%s", cfg.LLM.Provider)
	if cfg.LLM.Provider == "openrouter" {
		printStatus("Model", "%s", cfg.OpenRouter.Model)
	} else {
		ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
		printStatus("Fast model", "%s", cfg.Ollama.FastModel)
		printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
	}

	if running {
		c := &apiClient{baseURL: base, token: cfg.API.Token, httpClient: client}
		ctx := context.Background()

		var upcoming []struct {
			ID string `json:"id"`
		}
		if r, err := c.get(ctx, "/events?limit=100"); err == nil && decodeJSON(r, &upcoming) == nil {
			printStatus("Upcoming events", "%s", countLabel(len(upcoming), 100))
		}
		var review []struct {
			ID string `json:"id"`
		}
		if r, err := c.get(ctx, "/events/review?limit=100"); err == nil && decodeJSON(r, &review) == nil {
			printStatus("Needs review", "%s", countLabel(len(review), 100))
		}
		var sources []struct {
			Name string `json:"name"`
		}
		if r, err := c.get(ctx, "/sources"); err == nil && decodeJSON(r, &sources) == nil {
			printStatus("Sources", "%d", len(sources))
		}
	}

	printStatus("Sources file", "%s", cfg.Ingest.SourcesFile)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
