package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mkovalv/pvewatch/internal/config"
)

// etcd key under which the serialized baseline map lives
const etcdKey = "pvewatch/baseline"

// EtcdStore implements Store on an etcd cluster, for deployments where a
// standby watcher instance should resume from the same baseline
type EtcdStore struct {
	client *clientv3.Client
	logger *slog.Logger
}

// NewEtcdStore creates an etcd-backed baseline store
func NewEtcdStore(cfg config.BaselineConfig, logger *slog.Logger) (*EtcdStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: 5 * time.Second,
		Username:    cfg.EtcdUsername,
		Password:    cfg.EtcdPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err = client.Status(ctx, cfg.EtcdEndpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logger.Info("connected to etcd cluster", "endpoints", cfg.EtcdEndpoints)

	return &EtcdStore{
		client: client,
		logger: logger,
	}, nil
}

func (s *EtcdStore) Load(ctx context.Context) (map[string]Record, error) {
	resp, err := s.client.Get(ctx, etcdKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline from etcd: %w", err)
	}

	records := make(map[string]Record)
	if len(resp.Kvs) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(resp.Kvs[0].Value, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baseline: %w", err)
	}

	return records, nil
}

func (s *EtcdStore) Save(ctx context.Context, records map[string]Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}

	if _, err = s.client.Put(ctx, etcdKey, string(data)); err != nil {
		return fmt.Errorf("failed to write baseline to etcd: %w", err)
	}

	s.logger.Debug("wrote baseline to etcd", "records", len(records))

	return nil
}

func (s *EtcdStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
