// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"os"
	"strings"

	"github.com/peterh/liner"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// Input wraps liner with persistent history support.
type Input struct {
	line        *liner.State
	historyFile string
}

// NewInput creates an input reader backed by the given history file.
func NewInput(historyFile string) *Input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	in := &Input{
		line:        line,
		historyFile: historyFile,
	}
	in.loadHistory()
	return in
}

func (in *Input) loadHistory() {
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
}

// ReadLine reads a line with history navigation. Non-empty input is
// appended to the in-memory history.
func (in *Input) ReadLine(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

func (in *Input) saveHistory() {
	// Create file with secure permissions (0600 - owner read/write only)
	f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	in.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (in *Input) Close() {
	in.saveHistory()
	in.line.Close()
}
