// ABOUTME: Starter config generation and operator session minting
// ABOUTME: Backs the init and token subcommands

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/skip2/go-qrcode"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
)

// qrSize is the edge length in pixels of the token QR code.
const qrSize = 256

const starterConfig = `# parley configuration
# Generated by parley init

server:
  http_addr: %q
  allowed_origins: ["*"]

database:
  driver: "sqlite"
  path: %q

operator:
  id: %q

auth:
  jwt_secret: %q
  session_ttl: "24h"

bus:
  mode: "local"
  buffer_size: 64

moderation:
  enabled: false
  censored_words: []
  censor_char: "*"

search:
  enabled: true
  path: ""

logging:
  level: "info"
  format: "text"
`

// newSecret returns a random base64 secret long enough for HS256.
func newSecret() (string, error) {
	b := make([]byte, auth.MinSecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// writeStarterConfig writes a working single-node config to configPath.
func writeStarterConfig(configPath, dbPath string) error {
	secret, err := newSecret()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(starterConfig, config.DefaultHTTPAddr, dbPath, config.DefaultOperatorID, secret)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// mintOperatorToken signs a session for the configured operator.
func mintOperatorToken(cfg *config.Config, ttl time.Duration) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	if ttl <= 0 {
		ttl = cfg.Auth.SessionTTL
	}
	token, err := verifier.Generate(cfg.Operator.ID, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

func runToken(args []string) error {
	var configPath string
	flags := newFlagSet("token", &configPath)
	ttl := flags.Duration("ttl", 0, "session lifetime (default auth.session_ttl)")
	qrPath := flags.String("qr", "", "also write the token as a QR code PNG to this file")
	noSave := flags.Bool("no-save", false, "print the token without saving it")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := mintOperatorToken(cfg, *ttl)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if !*noSave {
		path := tokenPath(configPath)
		if err := os.WriteFile(path, []byte(token), 0600); err != nil {
			return fmt.Errorf("writing token file: %w", err)
		}
		green.Fprintf(os.Stderr, "  ✓ Saved token: %s\n", path)
	}

	if *qrPath != "" {
		if err := qrcode.WriteFile(token, qrcode.Medium, qrSize, *qrPath); err != nil {
			return fmt.Errorf("writing QR code: %w", err)
		}
		green.Fprintf(os.Stderr, "  ✓ Saved QR code: %s\n", *qrPath)
	}

	fmt.Println(token)
	return nil
}
