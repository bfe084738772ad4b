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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/models"
	"github.com/loqalabs/loqa-speech/internal/security"
	"github.com/loqalabs/loqa-speech/internal/storage"
	"github.com/loqalabs/loqa-speech/internal/stt"
)

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.LogError(err, "Failed to encode response")
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeError maps domain errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError

	var (
		requestErr  *stt.TranscriptionRequestError
		notFoundErr *models.ModelNotFoundError
		assetErr    *models.AssetResolutionError
	)
	switch {
	case errors.Is(err, stt.ErrRecordingNotFound),
		errors.As(err, &notFoundErr),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &requestErr):
		status = http.StatusBadGateway
		if requestErr.QuotaExceeded {
			status = http.StatusTooManyRequests
		}
	case errors.Is(err, stt.ErrMissingCredentials):
		status = http.StatusServiceUnavailable
	case errors.As(err, &assetErr),
		errors.Is(err, security.ErrInvalidModelID),
		errors.Is(err, security.ErrInvalidFilename):
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		logging.LogError(err, msg)
	} else {
		logging.LogWarn(msg, zap.Int("status", status), zap.Error(err))
	}
	writeMessage(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// parseIntParam parses integer parameter with default value
func parseIntParam(param string, defaultValue int) int {
	if param == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(param); err == nil {
		return value
	}
	return defaultValue
}
