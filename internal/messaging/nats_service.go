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

package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/logging"
)

// ErrNotConnected is returned by publish and subscribe before Connect
var ErrNotConnected = errors.New("NATS connection not established")

// NATSService publishes completed analyses to NATS
type NATSService struct {
	conn *nats.Conn
	cfg  config.NATSConfig
}

// NewNATSService creates a new NATS service instance
func NewNATSService(cfg config.NATSConfig) *NATSService {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "loqa.speech.analyses"
	}
	return &NATSService{cfg: cfg}
}

// Subject returns the subject analyses are published on
func (ns *NATSService) Subject() string {
	return ns.cfg.Subject
}

// Connect establishes connection to NATS server
func (ns *NATSService) Connect() error {
	logging.LogNATSEvent(ns.cfg.URL, "connecting")

	opts := []nats.Option{
		nats.Name("loqa-speech"),
		nats.ReconnectWait(ns.cfg.ReconnectWait),
		nats.MaxReconnects(ns.cfg.MaxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogWarn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(nc.ConnectedUrl(), "reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(ns.cfg.URL, "closed")
		}),
	}

	conn, err := nats.Connect(ns.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.conn = conn
	logging.LogNATSEvent(conn.ConnectedUrl(), "connected")
	return nil
}

// PublishAnalysis publishes an analysis event as JSON
func (ns *NATSService) PublishAnalysis(event *events.AnalysisEvent) error {
	if ns.conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis event: %w", err)
	}

	if err := ns.conn.Publish(ns.cfg.Subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", ns.cfg.Subject, err)
	}

	logging.LogNATSEvent(ns.cfg.Subject, "published",
		zap.String("uuid", event.UUID),
		zap.Bool("success", event.Success))
	return nil
}

// SubscribeToAnalyses subscribes to analysis events. Messages that do not
// decode are logged and skipped.
func (ns *NATSService) SubscribeToAnalyses(handler func(*events.AnalysisEvent)) (*nats.Subscription, error) {
	if ns.conn == nil {
		return nil, ErrNotConnected
	}

	return ns.conn.Subscribe(ns.cfg.Subject, func(msg *nats.Msg) {
		event, err := decodeAnalysis(msg)
		if err != nil {
			logging.LogError(err, "Dropping analysis message", zap.String("subject", msg.Subject))
			return
		}
		logging.LogNATSEvent(msg.Subject, "received", zap.String("uuid", event.UUID))
		handler(event)
	})
}

func decodeAnalysis(msg *nats.Msg) (*events.AnalysisEvent, error) {
	var event events.AnalysisEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis event: %w", err)
	}
	if err := event.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid analysis event: %w", err)
	}
	return &event, nil
}

// Close drains and closes the NATS connection
func (ns *NATSService) Close() {
	if ns.conn == nil {
		return
	}
	if err := ns.conn.Drain(); err != nil {
		ns.conn.Close()
	}
	ns.conn = nil
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	return ns.conn != nil && ns.conn.IsConnected()
}

// GetStats returns connection statistics
func (ns *NATSService) GetStats() nats.Statistics {
	if ns.conn != nil {
		return ns.conn.Stats()
	}
	return nats.Statistics{}
}
