// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions for the storelink-tui application.
//
// This package contains common helper functions used throughout the
// application for string handling and file operations.
//
// # Key Functions
//
// String Utilities:
//   - TruncateWidth: display-width aware truncation (CJK safe)
//
// File Utilities:
//   - AtomicWriteFile: crash-safe file writes via temp file + rename
package util
