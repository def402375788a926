package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/pkg/types"
)

// Events announces completed runs to downstream consumers (mass delivery)
type Events interface {
	PublicationExtracted(ctx context.Context, stats *types.ExtractionRunStats) error
	Close() error
}

// PublicationExtractedEvent is the JSON payload published after a run
type PublicationExtractedEvent struct {
	RunID       string                `json:"run_id"`
	Publication types.PublicationInfo `json:"publication"`
	Inserted    int                   `json:"inserted"`
	Total       int                   `json:"total_in_publication"`
	Forced      bool                  `json:"force_extract"`
	OccurredAt  time.Time             `json:"occurred_at"`
}

// NewPublicationExtractedEvent builds the payload for stats
func NewPublicationExtractedEvent(stats *types.ExtractionRunStats, now time.Time) PublicationExtractedEvent {
	return PublicationExtractedEvent{
		RunID:       stats.RunID,
		Publication: stats.Publication,
		Inserted:    stats.Listings.Inserted,
		Total:       stats.Listings.TotalInPublication,
		Forced:      stats.ForceExtract,
		OccurredAt:  now.UTC(),
	}
}

// NopEvents drops every event
type NopEvents struct{}

func (NopEvents) PublicationExtracted(context.Context, *types.ExtractionRunStats) error { return nil }
func (NopEvents) Close() error                                                          { return nil }

// NATSEvents publishes events on a JetStream subject
type NATSEvents struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
	logger  *slog.Logger
}

// NewNATSEvents connects to url and makes sure stream captures subject
func NewNATSEvents(ctx context.Context, url, stream, subject string, logger *slog.Logger) (*NATSEvents, error) {
	logger = logging.Component(logger, "events")

	conn, err := nats.Connect(url, nats.Name("zoomchat"))
	if err != nil {
		logger.Error("could not connect to NATS", "url", url, "error", err)
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{subject},
	})
	if err != nil {
		conn.Close()
		logger.Error("could not create JetStream stream", "stream", stream, "error", err)
		return nil, fmt.Errorf("create stream %s: %w", stream, err)
	}

	return &NATSEvents{conn: conn, js: js, subject: subject, logger: logger}, nil
}

func (e *NATSEvents) PublicationExtracted(ctx context.Context, stats *types.ExtractionRunStats) error {
	payload, err := json.Marshal(NewPublicationExtractedEvent(stats, time.Now()))
	if err != nil {
		return err
	}

	ack, err := e.js.Publish(ctx, e.subject, payload, jetstream.WithMsgID(stats.RunID))
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.subject, err)
	}

	e.logger.Info("publication event published",
		"subject", e.subject,
		"publication", stats.Publication.Number,
		"stream", ack.Stream,
		"sequence", ack.Sequence)
	return nil
}

func (e *NATSEvents) Close() error {
	return e.conn.Drain()
}
