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

package stt

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordingNotFound matches every RecordingNotFoundError
	ErrRecordingNotFound = errors.New("recording not found")

	// ErrMissingCredentials is returned when the selected provider has no API key
	ErrMissingCredentials = errors.New("transcription provider credentials not configured")
)

// RecordingNotFoundError reports an audio path that does not exist.
type RecordingNotFoundError struct {
	Path string
}

func (e *RecordingNotFoundError) Error() string {
	return fmt.Sprintf("recording not found: %s", e.Path)
}

func (e *RecordingNotFoundError) Is(target error) bool {
	return target == ErrRecordingNotFound
}

// TranscriptionRequestError is an upstream failure or an empty result.
// Message carries the provider's own error text when one was returned.
type TranscriptionRequestError struct {
	Provider      ProviderKind
	StatusCode    int
	Message       string
	QuotaExceeded bool
}

func (e *TranscriptionRequestError) Error() string {
	if e.QuotaExceeded {
		return fmt.Sprintf("%s transcription quota exceeded, check billing and usage limits", e.Provider)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transcription request failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s transcription request failed: %s", e.Provider, e.Message)
}
