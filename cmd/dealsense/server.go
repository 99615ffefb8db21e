package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/AleenDhar/dealsense/internal/api"
	"github.com/AleenDhar/dealsense/internal/composer"
	"github.com/AleenDhar/dealsense/internal/config"
	"github.com/AleenDhar/dealsense/internal/embedding"
	"github.com/AleenDhar/dealsense/internal/ingest"
	"github.com/AleenDhar/dealsense/internal/retrieval"
	"github.com/AleenDhar/dealsense/internal/settings"
	"github.com/AleenDhar/dealsense/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dealsense server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running dealsense server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dealsense system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "dealsense.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "dealsense version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Refuse to start twice. The health endpoint doubles as the liveness
	// probe for the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("dealsense is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("dealsense is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the context assembly pipeline.
	provider := settings.NewStoreProvider(store)
	embedder := embedding.NewClient(provider, embedding.WithModel(cfg.Embedding.Model))
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	searcher := retrieval.NewSearcher(embedder, vectorStore, float32(cfg.Retrieval.Threshold), cfg.Retrieval.TopK)
	assembler := composer.NewAssembler(provider, store, searcher, logger)

	handler := api.NewHandler(api.Deps{
		Store:           store,
		Settings:        provider,
		Assembler:       assembler,
		Token:           cfg.Auth.Token,
		DefaultAgentURL: cfg.Agent.URL,
		Logger:          logger,
	})

	// Start the embedding worker.
	worker := ingest.NewWorker(store, embedder, vectorStore, 500*time.Millisecond)
	go worker.Run(ctx)

	// Start the MCP server over stdio so the agent can reach document tools.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Searcher: searcher,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", "error", err)
		}
	}()
	logger.Info("MCP server started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "dealsense listening on %s\n", addr)
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
		printError("dealsense is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop dealsense (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to dealsense (PID %d)", pid)
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
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	agentURL := cfg.Agent.URL
	if agentURL == "" {
		agentURL = "(configured at runtime)"
	}
	printStatus("Agent endpoint", "%s", agentURL)
	printStatus("Embedding model", "%s", cfg.Embedding.Model)

	if running {
		api, err := newAPIClient()
		if err == nil {
			if projResp, err := api.get(ctx, "/api/projects"); err == nil {
				var projects []struct {
					Name string `json:"name"`
				}
				if decodeJSON(projResp, &projects) == nil {
					printStatus("Projects", "%d", len(projects))
				}
			}
			if chatResp, err := api.get(ctx, "/api/chats?limit=200"); err == nil {
				var chats []struct {
					ID string `json:"id"`
				}
				if decodeJSON(chatResp, &chats) == nil {
					printStatus("Chats", "%d", len(chats))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
