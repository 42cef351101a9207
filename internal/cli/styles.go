// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// PALETTE
// =============================================================================

var (
	colorCyan      = lipgloss.Color("#22d3ee")
	colorPurple    = lipgloss.Color("#a78bfa")
	colorEmerald   = lipgloss.Color("#34d399")
	colorAmber     = lipgloss.Color("#fbbf24")
	colorRose      = lipgloss.Color("#fb7185")
	colorSecondary = lipgloss.Color("#94a3b8")
)

// =============================================================================
// STYLES
// =============================================================================

var (
	// Prompt style
	promptStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	// Welcome banner style
	welcomeStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	// Info style
	infoStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)

	// Command style
	commandStyle = lipgloss.NewStyle().
			Foreground(colorEmerald)

	// Warning style
	warningStyle = lipgloss.NewStyle().
			Foreground(colorAmber)

	// Error style
	errorStyle = lipgloss.NewStyle().
			Foreground(colorRose).
			Bold(true)

	// Status line shown while the server is working on a reply
	statusStyle = lipgloss.NewStyle().
			Foreground(colorAmber).
			Italic(true)

	// Conversation list header
	listHeaderStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	// Tool payload marker inside a reply
	toolStyle = lipgloss.NewStyle().
			Foreground(colorPurple)
)
