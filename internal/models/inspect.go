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

package models

import (
	"fmt"

	gguf "github.com/gpustack/gguf-parser-go"
)

// ModelInfo summarizes the GGUF header of a model file.
type ModelInfo struct {
	Name            string `json:"name"`
	Architecture    string `json:"architecture"`
	FileType        string `json:"file_type"`
	SizeBytes       uint64 `json:"size_bytes"`
	Parameters      uint64 `json:"parameters"`
	HasChatTemplate bool   `json:"has_chat_template"`
}

// Inspect parses the GGUF header at path.
func Inspect(path string) (*ModelInfo, error) {
	f, err := gguf.ParseGGUFFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GGUF file %s: %w", path, err)
	}

	meta := f.Metadata()
	_, hasTemplate := f.Header.MetadataKV.Get("tokenizer.chat_template")

	return &ModelInfo{
		Name:            meta.Name,
		Architecture:    meta.Architecture,
		FileType:        meta.FileType.String(),
		SizeBytes:       uint64(meta.Size),
		Parameters:      uint64(meta.Parameters),
		HasChatTemplate: hasTemplate,
	}, nil
}
