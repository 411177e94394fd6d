package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/anishahaha07/myfi-scanner/internal/dashboard"
	"github.com/anishahaha07/myfi-scanner/internal/extract"
	"github.com/anishahaha07/myfi-scanner/internal/mail"
	"github.com/anishahaha07/myfi-scanner/internal/scan"
	"github.com/anishahaha07/myfi-scanner/internal/scanning"
)

func main() {
	fs := ff.NewFlagSet("myfi-scanner")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "myfi-scanner.db", "Database file path")
		credsPath     = fs.StringLong("google-credentials", "credentials.json", "OAuth client credentials file")
		tokenPath     = fs.StringLong("google-token", "token.json", "OAuth token file from the initial consent flow")
		scannerType   = fs.StringLong("scanner", "gemini", "Generative provider: 'gemini' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set MYFI_GEMINI_KEY)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name")
		callBudget    = fs.IntLong("call-budget", 8, "Generative calls allowed per cooldown window")
		cooldownSecs  = fs.IntLong("cooldown", 60, "Cooldown in seconds once the call budget is spent")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		scanOnStartup = fs.BoolLong("scan-on-start", "Run one scan immediately on startup")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("MYFI")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	slog.Info("Opening store...", "path", *dbPath)
	store, err := scan.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	tokens, err := buildTokenCache(ctx, store, *credsPath, *tokenPath)
	if err != nil {
		slog.Error("Failed to set up credentials", "error", err)
		os.Exit(1)
	}

	slog.Info("Connecting to Gmail...")
	mailbox, err := mail.NewGmail(ctx, option.WithTokenSource(tokens))
	if err != nil {
		slog.Error("Failed to create mailbox", "error", err)
		os.Exit(1)
	}

	var extractor scanning.Extractor
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key or GEMINI_API_KEY")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini...", "model", *geminiModel)
		extractor, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer extractor.Close()

	budget := extract.NewCallBudget(*callBudget, time.Duration(*cooldownSecs)*time.Second)
	pipeline := extract.NewOrchestrator(mailbox, extractor, budget)
	coordinator := scan.NewCoordinator(mailbox, pipeline, store, tokens)

	server := dashboard.NewServer(store, coordinator, dashboard.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	if *scanOnStartup {
		if err := coordinator.Refresh(ctx); err != nil {
			slog.Warn("Startup scan not started", "error", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// buildTokenCache wires the persistent credential cache over the OAuth
// refresh flow. The initial consent token comes from a file produced by
// a one-time interactive flow; refreshes are silent from then on.
func buildTokenCache(ctx context.Context, store scan.Store, credsPath, tokenPath string) (*scan.TokenCache, error) {
	credsData, err := os.ReadFile(credsPath)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	config, err := google.ConfigFromJSON(credsData, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}

	tokenData, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenData, &token); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}

	return scan.NewTokenCache(store, config.TokenSource(ctx, &token)), nil
}
