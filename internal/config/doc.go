// Package config handles configuration loading for chathub.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATHUB_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chathub/hub.yaml
//  3. ~/.config/chathub/hub.yaml
//
// Files ending in .toml are read as TOML; anything else is YAML. Both use the
// same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHATHUB_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	hub:
//	  dedupe_ttl: "5m"
//	websocket:
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//
// # Defaults
//
// Everything except server.http_addr and database.path has a default:
// 32 presence shards, 16 fanout workers with 1024-slot queues, a pin limit
// of 10, and a 5 minute client message id window holding at most 100000 ids.
// An empty server.grpc_addr disables the gRPC health service, and an empty
// auth.jwt_secret enables development mode.
package config
