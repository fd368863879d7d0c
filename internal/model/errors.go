// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "errors"

// Validation errors for persona configuration.
var (
	ErrPersonaID   = errors.New("persona id must not be empty")
	ErrPersonaName = errors.New("persona name must not be empty")
)
