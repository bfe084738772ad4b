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
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/models"
)

// ModelResolver places, locates and removes model files
type ModelResolver interface {
	GetModelPath(id, filename string) string
	EnsureModelAsset(ctx context.Context, cfg models.ModelAssetConfig, opts models.EnsureOptions) (string, error)
	RemoveModelAsset(id, filename string) error
}

// ModelsHandler exposes the models the service knows how to resolve
type ModelsHandler struct {
	resolver ModelResolver
	catalog  map[string]models.ModelAssetConfig
}

// NewModelsHandler creates a handler for the given asset configs, keyed by ID
func NewModelsHandler(resolver ModelResolver, assets ...models.ModelAssetConfig) *ModelsHandler {
	catalog := make(map[string]models.ModelAssetConfig, len(assets))
	for _, asset := range assets {
		catalog[asset.ID] = asset
	}
	return &ModelsHandler{resolver: resolver, catalog: catalog}
}

// ModelStatus describes one model on disk
type ModelStatus struct {
	ID      string            `json:"id"`
	Path    string            `json:"path"`
	Present bool              `json:"present"`
	Info    *models.ModelInfo `json:"info,omitempty"`
}

// HandleModel handles GET|DELETE /api/models/{id} and POST /api/models/{id}/ensure
func (h *ModelsHandler) HandleModel(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/models/"), "/"), "/")
	if parts[0] == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "ensure") {
		writeMessage(w, http.StatusNotFound, "Not found")
		return
	}

	asset, ok := h.catalog[parts[0]]
	if !ok {
		writeMessage(w, http.StatusNotFound, "Unknown model: "+parts[0])
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		h.ensure(w, r, asset)
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.status(w, asset)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.remove(w, asset)
	default:
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *ModelsHandler) status(w http.ResponseWriter, asset models.ModelAssetConfig) {
	path := h.resolver.GetModelPath(asset.ID, asset.Filename)
	writeJSON(w, http.StatusOK, describeModel(asset.ID, path))
}

func (h *ModelsHandler) ensure(w http.ResponseWriter, r *http.Request, asset models.ModelAssetConfig) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	path, err := h.resolver.EnsureModelAsset(r.Context(), asset, models.EnsureOptions{ForceRefresh: force})
	if err != nil {
		writeError(w, err, "Failed to ensure model")
		return
	}
	writeJSON(w, http.StatusOK, describeModel(asset.ID, path))
}

func (h *ModelsHandler) remove(w http.ResponseWriter, asset models.ModelAssetConfig) {
	if err := h.resolver.RemoveModelAsset(asset.ID, asset.Filename); err != nil {
		writeError(w, err, "Failed to remove model")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// describeModel reports presence and, for GGUF files, the model metadata
func describeModel(id, path string) ModelStatus {
	status := ModelStatus{ID: id, Path: path}
	if _, err := os.Stat(path); err != nil {
		return status
	}
	status.Present = true

	if strings.EqualFold(filepath.Ext(path), ".gguf") {
		info, err := models.Inspect(path)
		if err != nil {
			logging.Sugar.Debugw("Model metadata unavailable", "model_id", id, "error", err)
		} else {
			status.Info = info
		}
	}
	return status
}
