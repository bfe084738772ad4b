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

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/logging"
)

// ErrNotFound is returned when no analysis matches the requested UUID
var ErrNotFound = errors.New("analysis not found")

const analysisColumns = `uuid, request_id, timestamp,
	audio_path, audio_hash, audio_size_bytes, audio_duration_sec,
	provider, language, transcription, metrics,
	keywords, keyword_source, summary, summary_source,
	processing_time_ms, success, error_message`

var sortColumns = map[string]string{
	"":                "timestamp",
	"timestamp":       "timestamp",
	"processing_time": "processing_time_ms",
	"duration":        "audio_duration_sec",
}

// AnalysesStore handles database operations for analysis events
type AnalysesStore struct {
	db *Database
}

// NewAnalysesStore creates a new analyses store
func NewAnalysesStore(db *Database) *AnalysesStore {
	return &AnalysesStore{db: db}
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	Provider  string
	AudioHash string
	Success   *bool // nil = all
	StartTime *time.Time
	EndTime   *time.Time

	Limit  int
	Offset int

	SortBy    string // "timestamp", "processing_time", "duration"
	SortOrder string // "ASC", "DESC"
}

// Insert stores a new analysis event
func (s *AnalysesStore) Insert(event *events.AnalysisEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid analysis event: %w", err)
	}

	keywordsJSON, err := event.KeywordsJSON()
	if err != nil {
		return err
	}
	metricsJSON, err := event.MetricsJSON()
	if err != nil {
		return err
	}

	query := `INSERT INTO analyses (` + analysisColumns + `) VALUES (
		?, ?, ?,
		?, ?, ?, ?,
		?, ?, ?, ?,
		?, ?, ?, ?,
		?, ?, ?)`

	_, err = s.db.DB().Exec(query,
		event.UUID, event.RequestID, event.Timestamp.UTC(),
		event.AudioPath, event.AudioHash, event.AudioSizeBytes, event.AudioDurationSec,
		event.Provider, event.Language, event.Transcription, metricsJSON,
		keywordsJSON, event.KeywordSource, event.Summary, event.SummarySource,
		event.ProcessingTime, event.Success, event.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	logging.LogDatabaseOperation("insert", "analyses",
		zap.String("uuid", event.UUID),
		zap.Bool("success", event.Success))
	return nil
}

// GetByUUID retrieves an analysis by its UUID
func (s *AnalysesStore) GetByUUID(uuid string) (*events.AnalysisEvent, error) {
	row := s.db.DB().QueryRow(`SELECT `+analysisColumns+` FROM analyses WHERE uuid = ?`, uuid)
	event, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	return event, err
}

// List retrieves analyses with pagination and filtering
func (s *AnalysesStore) List(options ListOptions) ([]*events.AnalysisEvent, error) {
	query, args, err := buildListQuery(options)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	list := []*events.AnalysisEvent{}
	for rows.Next() {
		event, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		list = append(list, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyses: %w", err)
	}

	return list, nil
}

// Count returns the number of analyses matching the filter
func (s *AnalysesStore) Count(options ListOptions) (int64, error) {
	options.Limit = 0
	options.Offset = 0
	query, args, err := buildListQuery(options)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.DB().QueryRow("SELECT COUNT(*) FROM ("+query+") AS filtered", args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count analyses: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes analyses recorded before cutoff and reports how
// many rows went
func (s *AnalysesStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.DB().Exec("DELETE FROM analyses WHERE timestamp < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete analyses: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	logging.LogDatabaseOperation("prune", "analyses", zap.Int64("removed", removed))
	return removed, nil
}

func buildListQuery(options ListOptions) (string, []any, error) {
	var (
		where []string
		args  []any
	)

	if options.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, options.Provider)
	}
	if options.AudioHash != "" {
		where = append(where, "audio_hash = ?")
		args = append(args, options.AudioHash)
	}
	if options.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *options.Success)
	}
	if options.StartTime != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, options.StartTime.UTC())
	}
	if options.EndTime != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, options.EndTime.UTC())
	}

	sortBy, ok := sortColumns[options.SortBy]
	if !ok {
		return "", nil, fmt.Errorf("unsupported sort field %q", options.SortBy)
	}
	sortOrder := strings.ToUpper(options.SortOrder)
	switch sortOrder {
	case "":
		sortOrder = "DESC"
	case "ASC", "DESC":
	default:
		return "", nil, fmt.Errorf("unsupported sort order %q", options.SortOrder)
	}

	query := `SELECT ` + analysisColumns + ` FROM analyses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)
		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return query, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*events.AnalysisEvent, error) {
	var (
		event        events.AnalysisEvent
		metricsJSON  string
		keywordsJSON string
	)

	err := row.Scan(
		&event.UUID, &event.RequestID, &event.Timestamp,
		&event.AudioPath, &event.AudioHash, &event.AudioSizeBytes, &event.AudioDurationSec,
		&event.Provider, &event.Language, &event.Transcription, &metricsJSON,
		&keywordsJSON, &event.KeywordSource, &event.Summary, &event.SummarySource,
		&event.ProcessingTime, &event.Success, &event.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	if err := event.SetMetricsFromJSON(metricsJSON); err != nil {
		return nil, err
	}
	if err := event.SetKeywordsFromJSON(keywordsJSON); err != nil {
		return nil, err
	}
	return &event, nil
}
