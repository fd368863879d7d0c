// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// PERSONA TYPE
// =============================================================================

// Persona is a configured AI participant in a group session. Each persona
// answers every group turn with its own system prompt and (optionally) its
// own model, and its ID attributes the resulting assistant messages.
type Persona struct {
	// ID is the stable identifier used to attribute messages. It must be
	// unique within a configuration and never change for the lifetime of
	// stored sessions that reference it.
	ID string `json:"id" toml:"id"`

	// Name is the display name shown in the UI.
	Name string `json:"name" toml:"name"`

	// SystemPrompt is prepended as the first turn of every generation
	// request for this persona.
	SystemPrompt string `json:"system_prompt" toml:"system_prompt"`

	// Model optionally overrides the backend's default model.
	Model string `json:"model,omitempty" toml:"model"`
}

// Validate reports whether the persona is usable.
func (p *Persona) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrPersonaID
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrPersonaName
	}
	return nil
}

// DisplayName returns the persona name, falling back to the ID.
func (p *Persona) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
