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
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/pipeline"
	"github.com/loqalabs/loqa-speech/internal/storage"
)

// Analyzer runs a full analysis of one recording
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

// AnalysesReader reads the analysis log
type AnalysesReader interface {
	GetByUUID(uuid string) (*events.AnalysisEvent, error)
	List(options storage.ListOptions) ([]*events.AnalysisEvent, error)
	Count(options storage.ListOptions) (int64, error)
}

// AnalysesHandler handles HTTP requests for analyses
type AnalysesHandler struct {
	analyzer Analyzer
	store    AnalysesReader
}

// NewAnalysesHandler creates a new analyses handler
func NewAnalysesHandler(analyzer Analyzer, store AnalysesReader) *AnalysesHandler {
	return &AnalysesHandler{analyzer: analyzer, store: store}
}

// ListAnalysesResponse represents the response for listing analyses
type ListAnalysesResponse struct {
	Analyses   []*events.AnalysisEvent `json:"analyses"`
	Total      int64                   `json:"total"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"page_size"`
	TotalPages int                     `json:"total_pages"`
}

// HandleAnalyses handles GET /api/analyses and POST /api/analyses
func (h *AnalysesHandler) HandleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listAnalyses(w, r)
	case http.MethodPost:
		h.createAnalysis(w, r)
	default:
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleAnalysisByID handles GET /api/analyses/{uuid}
func (h *AnalysesHandler) HandleAnalysisByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	uuid := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/analyses/"), "/")
	if uuid == "" || strings.Contains(uuid, "/") {
		writeMessage(w, http.StatusBadRequest, "Analysis ID is required")
		return
	}

	event, err := h.store.GetByUUID(uuid)
	if err != nil {
		writeError(w, err, "Failed to get analysis")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *AnalysesHandler) createAnalysis(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AudioPath) == "" {
		writeMessage(w, http.StatusBadRequest, "audio_path is required")
		return
	}

	report, err := h.analyzer.Analyze(r.Context(), req)
	if err != nil {
		writeError(w, err, "Analysis failed")
		return
	}

	logging.Sugar.Infow("Analysis completed via API",
		"analysis_uuid", report.ID,
		"provider", report.Provider,
		"keyword_source", report.KeywordSource,
		"summary_source", report.SummarySource,
	)
	writeJSON(w, http.StatusCreated, report)
}

func (h *AnalysesHandler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := parseIntParam(query.Get("page"), 1)
	pageSize := parseIntParam(query.Get("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if page < 1 {
		page = 1
	}

	options := storage.ListOptions{
		Provider:  query.Get("provider"),
		AudioHash: query.Get("audio_hash"),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
		SortBy:    query.Get("sort_by"),
		SortOrder: query.Get("sort_order"),
	}

	if successStr := query.Get("success"); successStr != "" {
		if success, err := strconv.ParseBool(successStr); err == nil {
			options.Success = &success
		}
	}
	if startTimeStr := query.Get("start_time"); startTimeStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
			options.StartTime = &startTime
		}
	}
	if endTimeStr := query.Get("end_time"); endTimeStr != "" {
		if endTime, err := time.Parse(time.RFC3339, endTimeStr); err == nil {
			options.EndTime = &endTime
		}
	}

	list, err := h.store.List(options)
	if err != nil {
		// unknown sort fields end up here too
		logging.LogWarn("Failed to list analyses", zap.Error(err))
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	total, err := h.store.Count(options)
	if err != nil {
		writeError(w, err, "Failed to count analyses")
		return
	}

	writeJSON(w, http.StatusOK, ListAnalysesResponse{
		Analyses:   list,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	})
}
