package scylla

import (
	"fmt"

	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

type CounterRepository struct {
	client *ScyllaClient
}

func NewCounterRepository(client *ScyllaClient, logger *zap.Logger) *CounterRepository {
	return &CounterRepository{client: client}
}

func (r *CounterRepository) SaveCounter(snapshot *model.CounterSnapshot) error {
	query := r.client.Prepared.UpsertCounter.Bind(snapshot.Name, snapshot.Value, snapshot.CapturedAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to persist counter",
			zap.String("counter", snapshot.Name),
			zap.Int64("value", snapshot.Value),
			zap.Error(err))
		return fmt.Errorf("failed to persist counter %s: %w", snapshot.Name, err)
	}

	return nil
}

func (r *CounterRepository) LoadCounters() ([]*model.CounterSnapshot, error) {
	var snapshots []*model.CounterSnapshot

	iter := r.client.Prepared.GetCounters.Iter()

	var s model.CounterSnapshot
	for iter.Scan(&s.Name, &s.Value, &s.CapturedAt) {
		snap := s
		snapshots = append(snapshots, &snap)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to load persisted counters", zap.Error(err))
		return nil, fmt.Errorf("failed to load persisted counters: %w", err)
	}

	return snapshots, nil
}
