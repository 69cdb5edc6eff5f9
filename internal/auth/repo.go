package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lgu-emis/emis-web/internal/platform/db"
)

// Repository records portal logins for operators.
type Repository interface {
	Start(ctx context.Context, rec SessionRecord) error
	End(ctx context.Context, sessionID, reason string) error
	Touch(ctx context.Context, sessionID string) error
	SweepIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Start records a login under its freshly rotated session id. A row still
// open under the previous id, left by an earlier login in the same browser,
// is closed in the same transaction.
func (r *PGRepository) Start(ctx context.Context, rec SessionRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if rec.PreviousID != "" && rec.PreviousID != rec.SessionID {
			if _, err := tx.Exec(ctx, `
				UPDATE portal_sessions
				   SET ended_at = now(), end_reason = $2
				 WHERE session_id = $1 AND ended_at IS NULL`, rec.PreviousID, EndRenewed); err != nil {
				return fmt.Errorf("auth: close previous row: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO portal_sessions (session_id, user_id, email, remote_addr, user_agent, created_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			rec.SessionID, rec.UserID, rec.Email, rec.RemoteAddr, rec.UserAgent, createdAt.UTC()); err != nil {
			return fmt.Errorf("auth: insert session: %w", err)
		}
		return nil
	})
}

// End closes the open row of sessionID. Closed or unknown sessions are ignored.
func (r *PGRepository) End(ctx context.Context, sessionID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE portal_sessions
		   SET ended_at = now(), end_reason = $2
		 WHERE session_id = $1 AND ended_at IS NULL`, sessionID, reason)
	if err != nil {
		return fmt.Errorf("auth: end session: %w", err)
	}
	return nil
}

// Touch moves the last-seen mark of an open row to now.
func (r *PGRepository) Touch(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE portal_sessions
		   SET last_seen_at = now()
		 WHERE session_id = $1 AND ended_at IS NULL`, sessionID)
	if err != nil {
		return fmt.Errorf("auth: touch session: %w", err)
	}
	return nil
}

// SweepIdle expires open rows not seen since cutoff and reports how many.
func (r *PGRepository) SweepIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE portal_sessions
		   SET ended_at = now(), end_reason = $2
		 WHERE ended_at IS NULL AND last_seen_at < $1`, cutoff.UTC(), EndExpired)
	if err != nil {
		return 0, fmt.Errorf("auth: sweep sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)

// NopRepository is used when no database is configured.
type NopRepository struct{}

// Start does nothing.
func (NopRepository) Start(context.Context, SessionRecord) error { return nil }

// End does nothing.
func (NopRepository) End(context.Context, string, string) error { return nil }

// Touch does nothing.
func (NopRepository) Touch(context.Context, string) error { return nil }

// SweepIdle does nothing.
func (NopRepository) SweepIdle(context.Context, time.Time) (int64, error) { return 0, nil }

var _ Repository = NopRepository{}
