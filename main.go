// parley - multi-persona group chat over a durable message log.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/jeranaias/parley/internal/backend"
	"github.com/jeranaias/parley/internal/client"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/server"
	"github.com/jeranaias/parley/internal/store"
	"github.com/jeranaias/parley/internal/ui"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cmd := "chat"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "chat":
		runChat(args)
	case "serve":
		if err := runServe(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "ask":
		if err := runAsk(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("parley %s (%s, built %s)\n", Version, GitCommit, BuildDate)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`parley - multi-persona group chat

Usage:
  parley [chat] [flags]   Interactive TUI session (default)
  parley serve [flags]    Run the parley server
  parley ask <question>   One-shot group turn, plain text output
  parley version          Print version information

Flags:
  -config <path>          Config file (default ~/.parley/config.toml)
  -server <url>           Server base URL (chat/ask; default http://127.0.0.1:8989)
  -session <id>           Resume an existing session (chat/ask)
`)
}

// =============================================================================
// SERVE
// =============================================================================

// runServe runs the HTTP/SSE server until interrupted.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	listenAddr := fs.String("listen", "", "override listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	gen := backend.NewClient(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.Model)
	srv := server.New(cfg, st, gen)

	// Hot reload: persona and stream settings change without a restart.
	// Listen address changes still need one.
	watcher, err := config.Watch(*configPath, func(next *config.Config) {
		if *listenAddr != "" {
			next.Server.ListenAddr = *listenAddr
		}
		srv.UpdateConfig(next)
		log.Printf("config reloaded: %d personas", len(next.Personas))
	})
	if err != nil {
		log.Printf("config watch unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("parley %s listening on %s (%d personas, db %s)",
		Version, cfg.Server.ListenAddr, len(cfg.Personas), cfg.DBPath())
	return srv.ListenAndServe(ctx)
}

// =============================================================================
// CHAT (TUI)
// =============================================================================

// runChat starts the interactive TUI client.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	serverURL := fs.String("server", "", "server base URL")
	sessionID := fs.String("session", "", "session to resume")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cl, cfg := newClient(*configPath, *serverURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cl.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach parley server at %s: %v\n", serverBase(cfg, *serverURL), err)
		fmt.Fprintf(os.Stderr, "Start one with: parley serve\n")
		os.Exit(1)
	}

	m := ui.NewModel(cl, orNewSession(*sessionID))
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// ASK
// =============================================================================

// runAsk sends one question and prints each persona's reply as plain text.
func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	serverURL := fs.String("server", "", "server base URL")
	sessionID := fs.String("session", "", "session to resume")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := ""
	for i, a := range fs.Args() {
		if i > 0 {
			question += " "
		}
		question += a
	}
	if question == "" {
		return fmt.Errorf("usage: parley ask <question>")
	}

	cl, _ := newClient(*configPath, *serverURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var turnErr error
	current := ""
	err := cl.StreamTurn(ctx, orNewSession(*sessionID), question, client.TurnCallbacks{
		OnTurnEvent: func(ev client.TurnEvent) {
			switch ev.Kind {
			case client.KindChunk:
				if ev.PersonaID != current {
					if current != "" {
						fmt.Println()
						fmt.Println()
					}
					fmt.Printf("%s:\n", ev.PersonaName)
					current = ev.PersonaID
				}
				fmt.Print(ev.Delta)
			case client.KindError:
				fmt.Fprintf(os.Stderr, "\n[%s failed: %s]\n", ev.PersonaID, ev.Err)
			case client.KindDone:
				fmt.Println()
			}
		},
		OnError: func(err error) {
			turnErr = err
		},
	})
	if err != nil {
		return err
	}
	if turnErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", turnErr)
	}
	return nil
}

// =============================================================================
// SHARED
// =============================================================================

// newClient builds a client from config plus CLI overrides. Config load
// failure falls back to defaults so the client works without a config file.
func newClient(configPath, serverURL string) (*client.Client, *config.Config) {
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}
	cl := client.New(serverBase(cfg, serverURL))
	cl.LivenessInterval = cfg.Stream.LivenessInterval()
	return cl, cfg
}

// orNewSession mints a fresh session ID when none was given. The server
// creates unknown sessions on first turn, so the ID just has to be stable
// for the life of the client.
func orNewSession(id string) string {
	if id != "" {
		return id
	}
	return "sess_" + uuid.NewString()
}

// serverBase resolves the server URL: explicit flag wins, else the
// configured listen address.
func serverBase(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	return "http://" + cfg.Server.ListenAddr
}
