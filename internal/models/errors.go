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
	"strings"
)

// ModelNotFoundError is returned when none of the bundle candidates for a
// model exist.
type ModelNotFoundError struct {
	RelativePath string
	Searched     []string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model file %q not found in bundle (searched: %s)",
		e.RelativePath, strings.Join(e.Searched, ", "))
}

// AssetResolutionError is returned when a model asset cannot be turned into
// a local file.
type AssetResolutionError struct {
	ModelID string
	Reason  string
	Err     error
}

func (e *AssetResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve model asset %s: %s: %v", e.ModelID, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve model asset %s: %s", e.ModelID, e.Reason)
}

func (e *AssetResolutionError) Unwrap() error {
	return e.Err
}
