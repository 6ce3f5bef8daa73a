package scylla

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

type BackupRepository struct {
	client *ScyllaClient
}

func NewBackupRepository(client *ScyllaClient, logger *zap.Logger) *BackupRepository {
	return &BackupRepository{client: client}
}

func (r *BackupRepository) SaveBackupUser(user *model.BackupUser) error {
	if user.StoredAt.IsZero() {
		user.StoredAt = time.Now().UTC()
	}

	query := r.client.Prepared.InsertBackupUser.Bind(
		user.Bucket, user.MobileEncrypted, user.Hash,
		user.PinDigest, user.VerifiedAt, user.StoredAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to save backup user",
			zap.Int("bucket", user.Bucket),
			zap.Error(err))
		return fmt.Errorf("failed to save backup user: %w", err)
	}

	util.Info("Backup user persisted",
		zap.Int("bucket", user.Bucket),
		zap.String("hash", user.Hash))

	return nil
}

func (r *BackupRepository) ListBucket(bucket int) ([]*model.BackupUser, error) {
	var users []*model.BackupUser

	iter := r.client.Prepared.GetBackupUsers.Bind(bucket).Iter()

	var u model.BackupUser
	for iter.Scan(&u.Bucket, &u.MobileEncrypted, &u.Hash, &u.PinDigest, &u.VerifiedAt, &u.StoredAt) {
		user := u
		users = append(users, &user)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list backup users",
			zap.Int("bucket", bucket),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list backup users: %w", err)
	}

	return users, nil
}
