// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the parley application:
// rune-safe string truncation for UI display and crash-safe atomic file
// writes for configuration persistence.
package util
