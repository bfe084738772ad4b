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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/loqalabs/loqa-speech/internal/api"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/llm"
	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/messaging"
	"github.com/loqalabs/loqa-speech/internal/models"
	"github.com/loqalabs/loqa-speech/internal/monitoring"
	"github.com/loqalabs/loqa-speech/internal/pipeline"
	"github.com/loqalabs/loqa-speech/internal/storage"
	"github.com/loqalabs/loqa-speech/internal/stt"
)

// ServiceName is the gRPC health service name reported by the server
const ServiceName = "loqa.speech.v1.Analyzer"

// Server serves the speech analysis API over HTTP and reports health over gRPC
type Server struct {
	cfg    *config.Config
	mux    *http.ServeMux
	server *http.Server

	grpcServer *grpc.Server
	health     *health.Server

	resolver *models.Resolver
	adapter  *stt.Adapter
	engine   *llm.Engine
	analyzer *pipeline.Analyzer
	db       *storage.Database
	store    *storage.AnalysesStore
	nats     *messaging.NATSService
}

// New builds every component from cfg. The on-device engine loads models
// lazily; NATS is optional and a failed connection only disables publishing.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	resolver := models.NewResolver(cfg.Models.Dir, cfg.Models.BundleDir, cfg.Models.Platform)

	adapter, err := stt.NewAdapter(ctx, cfg.STT, resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription adapter: %w", err)
	}

	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Server.DBPath})
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		resolver: resolver,
		adapter:  adapter,
		engine:   llm.NewEngine(llm.NewLocalBackend(), resolver, cfg.Models.Platform, llm.TaskConfigs(cfg.Keyword, cfg.Summary)),
		db:       db,
		store:    storage.NewAnalysesStore(db),
		health:   health.NewServer(),
	}

	opts := pipeline.Options{Local: s.engine, Recorder: s.store}
	if cfg.Remote.Enabled() {
		opts.Remote = llm.NewRemoteCompleter(cfg.Remote)
	}
	if cfg.NATS.Enabled {
		s.nats = messaging.NewNATSService(cfg.NATS)
		if err := s.nats.Connect(); err != nil {
			logging.LogWarn("NATS unavailable, analyses will not be published", zap.Error(err))
			s.nats = nil
		} else {
			opts.Publisher = s.nats
		}
	}
	s.analyzer = pipeline.NewAnalyzer(adapter, opts)

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	s.routes()
	return s, nil
}

// Handler returns the HTTP handler with every route registered
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves gRPC health in the background and HTTP in the foreground
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.GRPCPort)))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}
	go func() {
		if err := s.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logging.LogError(err, "gRPC server stopped")
		}
	}()

	logging.Sugar.Infow("🚀 Loqa speech service starting",
		"http_addr", s.server.Addr,
		"grpc_port", s.cfg.Server.GRPCPort,
		"stt_provider", s.adapter.Provider(),
		"on_device", s.engine.Supported(),
		"remote_fallback", s.cfg.Remote.Enabled())

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop shuts down the listeners, then releases model contexts, NATS and the
// database. Every step runs even when an earlier one fails.
func (s *Server) Stop() error {
	logging.Sugar.Infow("🛑 Shutting down Loqa speech service")
	s.health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}
	s.grpcServer.GracefulStop()

	if err := s.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release models: %w", err))
	}
	if err := s.adapter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transcription provider: %w", err))
	}
	if s.nats != nil {
		s.nats.Close()
	}
	if err := s.db.Checkpoint(); err != nil {
		logging.LogWarn("WAL checkpoint failed", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logging.Sugar.Infow("✅ Loqa speech service shut down successfully")
	return nil
}

func (s *Server) routes() {
	speechHandler := api.NewSpeechHandler(s.adapter, s.analyzer)
	analysesHandler := api.NewAnalysesHandler(s.analyzer, s.store)
	modelsHandler := api.NewModelsHandler(s.resolver, s.modelCatalog()...)

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", monitoring.Handler())

	s.mux.HandleFunc("/api/transcriptions", speechHandler.HandleTranscriptions)
	s.mux.HandleFunc("/api/metrics", speechHandler.HandleMetrics)
	s.mux.HandleFunc("/api/keywords", speechHandler.HandleKeywords)
	s.mux.HandleFunc("/api/summary", speechHandler.HandleSummary)
	s.mux.HandleFunc("/api/analyses", analysesHandler.HandleAnalyses)
	s.mux.HandleFunc("/api/analyses/", analysesHandler.HandleAnalysisByID)
	s.mux.HandleFunc("/api/models/", modelsHandler.HandleModel)

	logging.Sugar.Infow("🌐 HTTP routes configured",
		"analyses_endpoint", "/api/analyses",
		"models_endpoint", "/api/models/{id}",
		"metrics_endpoint", "/metrics")
}

// modelCatalog lists the model files this configuration can resolve
func (s *Server) modelCatalog() []models.ModelAssetConfig {
	catalog := make([]models.ModelAssetConfig, 0, 3)
	for _, task := range []llm.Task{llm.TaskKeywords, llm.TaskSummary} {
		asset := llm.TaskConfigs(s.cfg.Keyword, s.cfg.Summary)[task].Asset
		if asset.ID != "" && !containsAsset(catalog, asset.ID) {
			catalog = append(catalog, asset)
		}
	}
	if whisper := stt.WhisperModelAsset(s.cfg.STT); whisper.ID != "" && !containsAsset(catalog, whisper.ID) {
		catalog = append(catalog, whisper)
	}
	return catalog
}

func containsAsset(assets []models.ModelAssetConfig, id string) bool {
	for _, asset := range assets {
		if asset.ID == id {
			return true
		}
	}
	return false
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status         string           `json:"status"`
	Timestamp      time.Time        `json:"timestamp"`
	Provider       stt.ProviderKind `json:"stt_provider"`
	OnDevice       bool             `json:"on_device"`
	KeywordsLoaded bool             `json:"keywords_model_loaded"`
	SummaryLoaded  bool             `json:"summary_model_loaded"`
	RemoteFallback bool             `json:"remote_fallback"`
	NATSConnected  bool             `json:"nats_connected"`
	Database       string           `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report := HealthResponse{
		Status:         "ok",
		Timestamp:      time.Now(),
		Provider:       s.adapter.Provider(),
		OnDevice:       s.engine.Supported(),
		KeywordsLoaded: s.engine.Loaded(llm.TaskKeywords),
		SummaryLoaded:  s.engine.Loaded(llm.TaskSummary),
		RemoteFallback: s.cfg.Remote.Enabled(),
		NATSConnected:  s.nats != nil && s.nats.IsConnected(),
		Database:       "ok",
	}

	status := http.StatusOK
	if err := s.db.Ping(); err != nil {
		report.Status = "degraded"
		report.Database = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logging.Sugar.Errorw("Failed to write health response", "error", err)
	}
}
