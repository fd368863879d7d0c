// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for parley.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation. File location (in order of precedence):
//
//   - path given explicitly (e.g. --config)
//   - ~/.parley/config.toml
//   - built-in defaults
//
// Environment overrides use the PARLEY_ prefix, e.g. PARLEY_BACKEND_URL,
// PARLEY_API_KEY, PARLEY_LISTEN_ADDR, PARLEY_DB_PATH.
//
// Watch observes the config file with fsnotify and invokes a callback with
// the freshly loaded configuration whenever it changes on disk, so persona
// rosters can be edited without restarting the server.
package config
