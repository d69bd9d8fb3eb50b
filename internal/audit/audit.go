// Package audit is adapted from the teacher's kafka.Emit: a best-effort,
// fire-and-forget publish of a single message to a Kafka topic. Here it
// carries only request metadata — never key material or intersection
// results, which §7's non-goals forbid persisting anywhere.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"
)

// Event is the metadata-only audit record emitted for one completed
// Engine.Execute call.
type Event struct {
	RequestID string `json:"request_id"`
	Peer      string `json:"peer"`
	Code      int32  `json:"code"`
	KeyCount  int    `json:"key_count"`
	LatencyMS int64  `json:"latency_ms"`
}

// Sink publishes Events to a Kafka topic. A nil-broker Sink (constructed
// via NewSink with an empty brokers list) is a no-op, matching the engine's
// "skip entirely when unset" wiring for optional ambient features.
type Sink struct {
	brokers []string
	topic   string
	log     zerolog.Logger
}

// NewSink builds a Sink. If brokers is empty, Emit is a no-op.
func NewSink(brokers []string, topic string, log zerolog.Logger) *Sink {
	return &Sink{brokers: brokers, topic: topic, log: log.With().Str("component", "audit").Logger()}
}

// Enabled reports whether this sink has brokers configured.
func (s *Sink) Enabled() bool {
	return s != nil && len(s.brokers) > 0
}

// Emit publishes ev to the configured topic, fire-and-forget: failures are
// logged, never returned, since audit emission must never affect request
// latency or success.
func (s *Sink) Emit(ev Event) {
	if !s.Enabled() {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn().Err(err).Msg("audit: marshal failed")
		return
	}

	conn, err := kafka.DialLeader(context.Background(), "tcp", s.brokers[0], s.topic, 0)
	if err != nil {
		s.log.Warn().Err(err).Msg("audit: dial leader failed")
		return
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.WriteMessages(kafka.Message{Value: payload}); err != nil {
		s.log.Warn().Err(err).Msg("audit: write failed")
	}
}
