// Package config handles configuration loading for parley.
//
// # Configuration File
//
// Location (first match wins):
//
//  1. Path from the PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/parley.yaml
//  3. ~/.config/parley/parley.yaml
//
// Before the file is read, the binary loads a .env file from the working
// directory if one exists. Variables already set in the environment win.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  allowed_origins: ["https://example.com"]
//
//	tailscale:
//	  enabled: false
//	  hostname: "parley"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//
//	database:
//	  driver: "sqlite"       # sqlite, postgres
//	  path: "~/.local/share/parley/parley.db"
//	  dsn: ""                # postgres: lib/pq connection string
//
//	operator:
//	  id: "operator"
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"   # at least 32 bytes
//	  session_ttl: "24h"
//
//	bus:
//	  mode: "local"          # local, remote
//	  buffer_size: 64
//	  relay_url: ""          # remote mode: the relay instance's base URL
//	  relay_secret: ""       # shared secret for relay publishes
//
//	moderation:
//	  enabled: false
//	  censored_words: ["..."]
//	  censor_char: "*"
//
//	search:
//	  enabled: false
//	  path: ""               # empty keeps the index in memory
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Environment Overrides
//
// After the file is parsed, these variables replace the matching values
// when set to a non-empty string:
//
//	PARLEY_HTTP_ADDR     server.http_addr
//	PARLEY_DB_DRIVER     database.driver
//	PARLEY_DB_PATH       database.path
//	PARLEY_DB_DSN        database.dsn
//	PARLEY_JWT_SECRET    auth.jwt_secret
//	PARLEY_SESSION_TTL   auth.session_ttl
//	PARLEY_OPERATOR_ID   operator.id
//	PARLEY_BUS_MODE      bus.mode
//	PARLEY_RELAY_URL     bus.relay_url
//	PARLEY_RELAY_SECRET  bus.relay_secret
//	PARLEY_LOG_LEVEL     logging.level
//	PARLEY_LOG_FORMAT    logging.format
//
// # Usage
//
//	_ = config.LoadEnvFiles()
//	cfg, err := config.Load(config.DefaultPath())
package config
