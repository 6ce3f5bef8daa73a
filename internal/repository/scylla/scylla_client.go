package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"sms-bridge/internal/config"
	"sms-bridge/internal/util"
)

// PreparedStatements holds the statements the repositories actually execute.
type PreparedStatements struct {
	InsertSettings   *gocql.Query
	GetLatestSetting *gocql.Query

	InsertBlacklist *gocql.Query
	DeleteBlacklist *gocql.Query
	ListBlacklist   *gocql.Query

	InsertBackupUser *gocql.Query
	GetBackupUsers   *gocql.Query

	UpsertCounter *gocql.Query
	GetCounters   *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.InsertSettings = s.Session.Query(`
        INSERT INTO settings_history (partition, version, payload, updated_at, updated_by)
        VALUES (?, ?, ?, ?, ?)`)

	prepared.GetLatestSetting = s.Session.Query(`
        SELECT version, payload, updated_at, updated_by
        FROM settings_history WHERE partition = ? LIMIT 1`)

	prepared.InsertBlacklist = s.Session.Query(`
        INSERT INTO blacklist (mobile, reason, added_at, added_by, expires_at)
        VALUES (?, ?, ?, ?, ?)`)

	prepared.DeleteBlacklist = s.Session.Query(`
        DELETE FROM blacklist WHERE mobile = ?`)

	prepared.ListBlacklist = s.Session.Query(`
        SELECT mobile, reason, added_at, added_by, expires_at FROM blacklist`)

	prepared.InsertBackupUser = s.Session.Query(`
        INSERT INTO backup_users (bucket, mobile_encrypted, hash, pin_digest, verified_at, stored_at)
        VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.GetBackupUsers = s.Session.Query(`
        SELECT bucket, mobile_encrypted, hash, pin_digest, verified_at, stored_at
        FROM backup_users WHERE bucket = ?`)

	prepared.UpsertCounter = s.Session.Query(`
        INSERT INTO power_down_counters (name, value, captured_at)
        VALUES (?, ?, ?)`)

	prepared.GetCounters = s.Session.Query(`
        SELECT name, value, captured_at FROM power_down_counters`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
