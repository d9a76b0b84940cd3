package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/synaptic-ai/chatstream/engine"
	"github.com/synaptic-ai/chatstream/observability"
	"github.com/synaptic-ai/chatstream/session"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to config file (.json or .toml)")
		message     = flag.String("message", "", "Message to send to the agent")
		pageURL     = flag.String("url", "", "Page URL the conversation is anchored to")
		pageContext = flag.String("context", "", "Highlighted passage to attach to the message")
		token       = flag.String("token", os.Getenv("CHATSTREAM_TOKEN"), "Bearer token (defaults to CHATSTREAM_TOKEN)")
		history     = flag.Bool("history", false, "Replace the local transcript with the remote history first")
		clear       = flag.Bool("clear", false, "Clear the remote transcript and local cache, then exit")
		save        = flag.Bool("save", true, "Persist the transcript on exit")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	if *message == "" && !*history && !*clear {
		fmt.Fprintln(os.Stderr, "Usage: chatstream -message <text> [-config <file>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := engine.DefaultConfig()
	if *configFile != "" {
		loaded, err := engine.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}
	if cfg.Store.Path == "" {
		if cacheDir, err := os.UserCacheDir(); err == nil {
			cfg.Store.Path = filepath.Join(cacheDir, "chatstream")
		}
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	e, err := engine.New(&cfg, engine.WithObserver(observability.NewSlogObserver(logger)))
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *clear {
		if err := e.ClearRemote(ctx, *token); err != nil {
			log.Fatalf("Clear failed: %v", err)
		}
		fmt.Println("Conversation cleared.")
		return
	}

	if *history {
		if err := e.LoadHistory(ctx, *token); err != nil {
			logger.Warn("history load failed, continuing with local cache", "error", err)
			if err := e.LoadLocal(ctx); err != nil {
				log.Fatalf("Failed to load local cache: %v", err)
			}
		}
	} else {
		if err := e.LoadLocal(ctx); err != nil {
			log.Fatalf("Failed to load local cache: %v", err)
		}
	}

	if *message != "" {
		// Interrupt cancels the turn; partial output is salvaged into the
		// transcript rather than reported as a failure.
		if err := e.Send(ctx, engine.Ask{
			Message: *message,
			URL:     *pageURL,
			Context: *pageContext,
			Token:   *token,
		}); err != nil {
			log.Fatalf("Send failed: %v (%s)", err, engine.UserMessage(err))
		}
	}

	for _, msg := range e.Messages() {
		printMessage(msg)
	}
	if errMsg := e.Err(); errMsg != "" {
		fmt.Fprintf(os.Stderr, "\n%s\n", errMsg)
	}

	if *save {
		if err := e.SaveLocal(ctx); err != nil {
			logger.Warn("failed to persist transcript", "error", err)
		}
	}
}

func printMessage(msg session.Message) {
	prefix := "you"
	if msg.Role == session.RoleAssistant {
		prefix = "agent"
	}
	fmt.Printf("[%s] %s\n", prefix, msg.Content)

	for _, ref := range msg.NoteLinks {
		fmt.Printf("    note: %s\n", ref.URL)
	}
	for _, ref := range msg.WebLinks {
		fmt.Printf("    web:  %s\n", ref.URL)
	}
}
