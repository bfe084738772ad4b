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

package llm

import (
	"errors"
	"fmt"
)

// ErrInferenceUnavailable matches every UnavailableError. Callers treat it as
// "no local answer" and fall back to a remote or manual path.
var ErrInferenceUnavailable = errors.New("on-device inference unavailable")

// UnavailableError is the only error the Engine returns.
type UnavailableError struct {
	Task   Task
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s inference unavailable: %s: %v", e.Task, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s inference unavailable: %s", e.Task, e.Reason)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrInferenceUnavailable
}

func unavailable(task Task, reason string, err error) *UnavailableError {
	return &UnavailableError{Task: task, Reason: reason, Err: err}
}
