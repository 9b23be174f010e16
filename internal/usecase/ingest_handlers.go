package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/middleware"
	pkgkafka "MarketCascade/pkg/kafka"
	applogger "MarketCascade/pkg/logger"
)

// Default ingestion topics.
const (
	TopicMacro   = "cascade.ingest.macro"
	TopicSectors = "cascade.ingest.sectors"
	TopicAssets  = "cascade.ingest.assets"
	TopicBars    = "cascade.ingest.bars"
)

// IngestHandler decodes one ingestion topic and hands the bundle to the gate.
// Malformed or invalid payloads are permanent; out-of-order bundles are dropped.
type IngestHandler struct {
	topic  string
	stream string
	accept func(ctx context.Context, payload []byte) error
	l      *applogger.Logger
}

var _ pkgkafka.MessageHandler = (*IngestHandler)(nil)

func (h *IngestHandler) Topic() string { return h.topic }

func (h *IngestHandler) Handle(ctx context.Context, payload []byte) error {
	err := h.accept(ctx, payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrNonMonotonic):
		if h.l != nil {
			h.l.Debug("dropped out-of-order bundle", applogger.String("stream", h.stream), applogger.Error(err))
		}
		return nil
	case errors.Is(err, models.ErrInvalidArgument):
		return pkgkafka.Permanent(err)
	}
	return err
}

func decode(stream string, payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("decode %s bundle: %w", stream, err))
	}
	return nil
}

// IngestTopics names the topic of each ingestion stream.
type IngestTopics struct {
	Macro   string
	Sectors string
	Assets  string
	Bars    string
}

func DefaultIngestTopics() IngestTopics {
	return IngestTopics{Macro: TopicMacro, Sectors: TopicSectors, Assets: TopicAssets, Bars: TopicBars}
}

// IngestHandlers returns one handler per ingestion topic.
func IngestHandlers(gate *middleware.IngestGate, topics IngestTopics, l *applogger.Logger) []pkgkafka.MessageHandler {
	return []pkgkafka.MessageHandler{
		&IngestHandler{topic: topics.Macro, stream: middleware.StreamMacro, l: l,
			accept: func(ctx context.Context, p []byte) error {
				var b models.MacroBundle
				if err := decode(middleware.StreamMacro, p, &b); err != nil {
					return err
				}
				return gate.AcceptMacro(ctx, b)
			}},
		&IngestHandler{topic: topics.Sectors, stream: middleware.StreamSectors, l: l,
			accept: func(ctx context.Context, p []byte) error {
				var b models.SectorBundle
				if err := decode(middleware.StreamSectors, p, &b); err != nil {
					return err
				}
				return gate.AcceptSectors(ctx, b)
			}},
		&IngestHandler{topic: topics.Assets, stream: middleware.StreamAssets, l: l,
			accept: func(ctx context.Context, p []byte) error {
				var b models.AssetBundle
				if err := decode(middleware.StreamAssets, p, &b); err != nil {
					return err
				}
				return gate.AcceptAssets(ctx, b)
			}},
		&IngestHandler{topic: topics.Bars, stream: middleware.StreamBars, l: l,
			accept: func(ctx context.Context, p []byte) error {
				var b models.BarBatch
				if err := decode(middleware.StreamBars, p, &b); err != nil {
					return err
				}
				return gate.AcceptBars(ctx, b)
			}},
	}
}
