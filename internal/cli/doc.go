// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the interactive REPL front end. It wires user input to
// the send coordinator and renders reactive conversation state frames as
// they arrive, so streamed replies appear progressively.
package cli
