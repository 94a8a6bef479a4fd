package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	applogger "BetPull/pkg/logger"
	"BetPull/pkg/queue"
)

// SaveRunnerJobType is the queue message type of a deferred runner save.
const SaveRunnerJobType = "save_runner"

// RetryingResultStore hands a failed SaveRunner to a durable queue instead of dropping the runner.
type RetryingResultStore struct {
	inner   domrepo.ResultStore
	queue   queue.Publisher
	log     *applogger.Logger
	metrics domrepo.Metrics
}

var _ domrepo.ResultStore = (*RetryingResultStore)(nil)

func NewRetryingResultStore(inner domrepo.ResultStore, q queue.Publisher, l *applogger.Logger, m domrepo.Metrics) *RetryingResultStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &RetryingResultStore{inner: inner, queue: q, log: l, metrics: m}
}

func (s *RetryingResultStore) Init(ctx context.Context) error   { return s.inner.Init(ctx) }
func (s *RetryingResultStore) Health(ctx context.Context) error { return s.inner.Health(ctx) }
func (s *RetryingResultStore) Close() error                     { return s.inner.Close() }

// SaveRunner returns nil when the save either succeeded or was queued for retry.
func (s *RetryingResultStore) SaveRunner(ctx context.Context, r *models.RunnerResult) error {
	err := s.inner.SaveRunner(ctx, r)
	if err == nil {
		return nil
	}
	qerr := s.queue.Enqueue(context.WithoutCancel(ctx), SaveRunnerJobType, r)
	if qerr != nil {
		return errors.Join(err, fmt.Errorf("queue runner save: %w", qerr))
	}
	s.log.Warn("runner save deferred",
		applogger.MarketID(r.MarketID),
		applogger.SelectionID(r.SelectionID),
		applogger.Error(err))
	if s.metrics != nil {
		s.metrics.RecordError("persist_deferred")
	}
	return nil
}

// SaveRunnerJob replays deferred saves against the underlying store.
type SaveRunnerJob struct {
	store domrepo.ResultStore
}

var _ queue.Job = (*SaveRunnerJob)(nil)

func NewSaveRunnerJob(store domrepo.ResultStore) *SaveRunnerJob {
	return &SaveRunnerJob{store: store}
}

func (j *SaveRunnerJob) Name() string { return "save-runner-result" }
func (j *SaveRunnerJob) Type() string { return SaveRunnerJobType }

func (j *SaveRunnerJob) Handle(ctx context.Context, payload json.RawMessage) error {
	r, err := queue.Decode[models.RunnerResult](payload)
	if err != nil {
		return err
	}
	return j.store.SaveRunner(ctx, r)
}
