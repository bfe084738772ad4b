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

// Package monitoring exposes Prometheus collectors for the speech pipeline.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loqa_speech"

// Registry holds every collector of this service. It is private to the
// service so tests and embedding binaries do not collide with the default
// registry.
var Registry = prometheus.NewRegistry()

var (
	transcriptions = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcriptions_total",
		Help:      "Transcription requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	transcriptionSeconds = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcription_seconds",
		Help:      "Wall time of transcription requests.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"provider"})

	completions = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "completions_total",
		Help:      "Keyword and summary generations by task and answering source.",
	}, []string{"task", "source"})

	modelLoads = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_loads_total",
		Help:      "On-device model context loads by task and outcome.",
	}, []string{"task", "outcome"})

	modelAssets = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_assets_total",
		Help:      "Model asset resolutions by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveTranscription records one transcription request
func ObserveTranscription(provider, outcome string, elapsed time.Duration) {
	transcriptions.WithLabelValues(provider, outcome).Inc()
	transcriptionSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// CountCompletion records which source answered a keyword/summary request
func CountCompletion(task, source string) {
	completions.WithLabelValues(task, source).Inc()
}

// CountModelLoad records a model context load attempt
func CountModelLoad(task, outcome string) {
	modelLoads.WithLabelValues(task, outcome).Inc()
}

// CountModelAsset records a model asset resolution
func CountModelAsset(result string) {
	modelAssets.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
