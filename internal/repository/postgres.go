package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/driftchat/backend/internal/domain"
)

// PostgresRepository implements the matching core's external
// collaborators (blocking, reputation, match archive) over PostgreSQL.
// The matching core only reads the first two and fire-and-forgets the
// archive; nothing here is called while the queue lock is held.
type PostgresRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

// GetBlockedSet returns the bidirectional blocked set for a device:
// devices it blocked and devices that blocked it.
func (r *PostgresRepository) GetBlockedSet(ctx context.Context, deviceID string) (map[string]struct{}, error) {
	query := `
		SELECT blocker_id, blocked_id
		FROM device_blocks
		WHERE blocker_id = $1 OR blocked_id = $1
	`
	rows, err := r.db.Query(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked set: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var blocker, blocked string
		if err := rows.Scan(&blocker, &blocked); err != nil {
			return nil, fmt.Errorf("failed to scan block row: %w", err)
		}
		if blocker == deviceID {
			set[blocked] = struct{}{}
		} else {
			set[blocker] = struct{}{}
		}
	}
	return set, rows.Err()
}

// GetReputation returns the device's reputation score. Devices without
// a row get the default; the caller also falls back on error.
func (r *PostgresRepository) GetReputation(ctx context.Context, deviceID string) (int, error) {
	query := `SELECT score FROM device_reputation WHERE device_id = $1`
	var score int
	err := r.db.QueryRow(ctx, query, deviceID).Scan(&score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultReputation, nil
		}
		return 0, fmt.Errorf("failed to query reputation: %w", err)
	}
	return score, nil
}

// IsBanned reports whether the device has an active ban.
func (r *PostgresRepository) IsBanned(ctx context.Context, deviceID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM device_bans
			WHERE device_id = $1
			  AND (expires_at IS NULL OR expires_at > now())
		)
	`
	var banned bool
	if err := r.db.QueryRow(ctx, query, deviceID).Scan(&banned); err != nil {
		return false, fmt.Errorf("failed to query ban status: %w", err)
	}
	return banned, nil
}

// RecordMatch inserts the write-only archive record for a new match.
func (r *PostgresRepository) RecordMatch(ctx context.Context, record domain.MatchRecord) error {
	query := `
		INSERT INTO match_history (match_id, device_a, device_b, score, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query,
		record.MatchID,
		record.DeviceA,
		record.DeviceB,
		record.Score,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert match record: %w", err)
	}
	return nil
}

// RecordMatchEnd stamps the end time and reason on an archived match.
func (r *PostgresRepository) RecordMatchEnd(ctx context.Context, matchID uuid.UUID, endedAt time.Time, reason domain.EndReason) error {
	query := `
		UPDATE match_history
		SET ended_at = $2, end_reason = $3
		WHERE match_id = $1
	`
	_, err := r.db.Exec(ctx, query, matchID, endedAt, string(reason))
	if err != nil {
		return fmt.Errorf("failed to update match record: %w", err)
	}
	return nil
}

// StartCleanupWorker periodically prunes old archive rows until ctx is
// cancelled.
func (r *PostgresRepository) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.cleanup(ctx)
			}
		}
	}()
}

func (r *PostgresRepository) cleanup(ctx context.Context) {
	query := `DELETE FROM match_history WHERE created_at < now() - interval '90 days'`
	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		r.logger.Warn("match history cleanup failed", zap.Error(err))
		return
	}
	if tag.RowsAffected() > 0 {
		r.logger.Info("pruned match history", zap.Int64("rows", tag.RowsAffected()))
	}
}
