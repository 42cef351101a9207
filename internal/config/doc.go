// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for parley.
//
// Configuration is TOML with built-in defaults, environment variable
// overrides (PARLEY_SERVER_URL, PARLEY_TIMEOUT_SECS, PARLEY_DB_PATH), and
// validation. A Watcher reloads the file on change so the running client
// can pick up a changed server URL without restarting.
package config
