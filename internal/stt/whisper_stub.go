//go:build !whisper

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
	"context"
	"fmt"
)

// WhisperProvider stub implementation when whisper is not available
type WhisperProvider struct{}

// NewWhisperProvider stub implementation
func NewWhisperProvider(modelPath string) (*WhisperProvider, error) {
	return nil, fmt.Errorf("whisper transcription disabled (build with -tags whisper to enable)")
}

func (p *WhisperProvider) Kind() ProviderKind {
	return ProviderWhisper
}

// Submit stub implementation
func (p *WhisperProvider) Submit(ctx context.Context, audio Audio, opts Options) (*RawResult, error) {
	return nil, fmt.Errorf("whisper transcription disabled (build with -tags whisper to enable)")
}

// Close stub implementation
func (p *WhisperProvider) Close() error {
	return nil
}
