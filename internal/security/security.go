/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package security

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidModelID is returned when a model ID cannot be used as a file name
	ErrInvalidModelID = errors.New("invalid model ID")

	// ErrInvalidFilename is returned when an explicit model filename is unsafe
	ErrInvalidFilename = errors.New("invalid model filename")

	// modelIDPattern allows the characters found in GGUF release names
	// (e.g. gemma-3-270m-it-Q4_K_S, qwen2.5-0.5b)
	modelIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// SanitizeLogInput removes newline characters to prevent log injection attacks
// This function should be used for all user-controlled data before logging
func SanitizeLogInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// ValidateModelID ensures a model ID is safe to turn into a file name inside
// the models directory.
func ValidateModelID(modelID string) error {
	if !isSafeName(modelID) {
		return ErrInvalidModelID
	}
	return nil
}

// ValidateFilename applies the model ID rules to an explicit destination
// filename. An empty filename is valid (the ID-derived default is used).
func ValidateFilename(filename string) error {
	if filename == "" {
		return nil
	}
	if !isSafeName(filename) {
		return ErrInvalidFilename
	}
	return nil
}

func isSafeName(name string) bool {
	if name == "" || name == "." {
		return false
	}
	// Path separators and parent references (CodeQL recommendation)
	if strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		return false
	}
	return modelIDPattern.MatchString(name)
}
