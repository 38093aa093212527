// ABOUTME: Entry point for the parley support chat server and its terminal clients
// ABOUTME: Dispatches serve, init, token, health, conversations, chat and export subcommands

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/gateway"
	"github.com/2389/parley/internal/identity"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                   _
  _ __   __ _ _ __| | ___ _   _
 | '_ \ / _' | '__| |/ _ \ | | |
 | |_) | (_| | |  | |  __/ |_| |
 | .__/ \__,_|_|  |_|\___|\__, |
 |_|                      |___/
`

const usage = `Usage: parley <command> [flags]

Commands:
  serve                          Start the chat server
  init                           Write a starter config with a fresh JWT secret
  token [--ttl 24h] [--qr FILE]  Mint an operator session token
  health                         Check server health
  conversations                  List the operator inbox
  chat --as visitor|operator     Chat in the terminal (--with ID picks the counterpart)
  export [--out FILE]            Export every transcript to an xlsx workbook
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "token":
		err = runToken(args)
	case "health":
		err = runHealth(ctx, args)
	case "conversations":
		err = runConversations(ctx, args)
	case "chat":
		err = runChat(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set for a subcommand with the shared --config flag.
func newFlagSet(name string, configPath *string) *flag.FlagSet {
	flags := flag.NewFlagSet("parley "+name, flag.ContinueOnError)
	flags.StringVar(configPath, "config", config.DefaultPath(), "config file path")
	return flags
}

// dataDir returns parley's data directory.
// Priority: XDG_DATA_HOME/parley > ~/.local/share/parley
func dataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "parley")
}

// tokenPath is where `parley token` saves the operator session token.
func tokenPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "token")
}

// visitorTokenPath is where the terminal visitor keeps its identity.
func visitorTokenPath() string {
	return filepath.Join(dataDir(), "visitor-token")
}

func runServe(ctx context.Context, args []string) error {
	var configPath string
	flags := newFlagSet("serve", &configPath)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Operator:  %s\n", cfg.Operator.ID)
	green.Print("    ▶ ")
	fmt.Printf("Bus:       %s", cfg.Bus.Mode)
	if cfg.Bus.Mode == config.BusModeRemote {
		gray.Printf(" (relay %s)", cfg.Bus.RelayURL)
	} else if cfg.Bus.RelaySecret != "" {
		yellow.Print(" [relay]")
	}
	fmt.Println()

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting parley",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"bus_mode", cfg.Bus.Mode,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit(args []string) error {
	var configPath string
	flags := newFlagSet("init", &configPath)
	force := flags.Bool("force", false, "overwrite an existing config")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	dbPath := filepath.Join(dataDir(), "parley.db")
	if err := writeStarterConfig(configPath, dbPath); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Database:       %s\n", dbPath)
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    parley serve    # start the server")
	fmt.Println("    parley token    # mint an operator session")
	fmt.Println()
	return nil
}

// operatorIDOrDefault returns the configured operator id, falling back to the
// well-known default when no config is available.
func operatorIDOrDefault(cfg *config.Config) string {
	if cfg != nil && cfg.Operator.ID != "" {
		return cfg.Operator.ID
	}
	return identity.DefaultOperatorID
}
