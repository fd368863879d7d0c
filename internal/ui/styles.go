// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// THEME
// =============================================================================

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	userTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	personaTextStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("250"))

	streamingMarkStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	inputPromptStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))
)

// personaPalette is the pool of label colors assigned to personas.
var personaPalette = []lipgloss.Color{
	"42",  // green
	"208", // orange
	"171", // magenta
	"81",  // cyan
	"220", // gold
	"111", // steel blue
	"160", // red
	"148", // lime
}

// personaLabelStyle returns a stable bold style for a persona, picked from
// the palette by hashing the persona ID so colors survive restarts.
func personaLabelStyle(personaID string) lipgloss.Style {
	h := fnv.New32a()
	h.Write([]byte(personaID))
	color := personaPalette[h.Sum32()%uint32(len(personaPalette))]
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}
