package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	"BetPull/internal/middleware"
	pkgkafka "BetPull/pkg/kafka"
)

// SnapshotSink is the next stage for decoded snapshots; *middleware.SnapshotPipeline satisfies it.
type SnapshotSink interface {
	Process(ctx context.Context, s *models.Snapshot) error
}

// KafkaSnapshotHandler decodes snapshot messages and passes them down the pipeline.
type KafkaSnapshotHandler struct {
	topic   string
	sink    SnapshotSink
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaSnapshotHandler)(nil)

func NewKafkaSnapshotHandler(topic string, sink SnapshotSink, metrics domrepo.Metrics) *KafkaSnapshotHandler {
	return &KafkaSnapshotHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaSnapshotHandler) Topic() string { return h.topic }

// Handle returns an error only for failures worth retrying. Malformed, invalid and
// out-of-order snapshots would fail the same way again, so they are counted and skipped.
func (h *KafkaSnapshotHandler) Handle(ctx context.Context, b []byte) error {
	var s models.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		h.metrics.RecordError("snapshot_unmarshal")
		return nil
	}
	h.metrics.RecordLatency("snapshot_ingest_lag", time.Since(s.Timestamp).Seconds())

	err := h.sink.Process(ctx, &s)
	if errors.Is(err, middleware.ErrInvalidSnapshot) || errors.Is(err, middleware.ErrOutOfOrder) {
		return nil
	}
	return err
}
