package app

import (
	"context"
	"time"

	"github.com/lgu-emis/emis-web/internal/auth"
	"github.com/lgu-emis/emis-web/internal/observability"
)

// SessionRegistry records login lifecycle rows and counts how sessions end.
type SessionRegistry struct {
	repo    auth.Repository
	metrics *observability.Metrics
}

// NewSessionRegistry wraps repo. A nil repo records nothing.
func NewSessionRegistry(repo auth.Repository, metrics *observability.Metrics) *SessionRegistry {
	if repo == nil {
		repo = auth.NopRepository{}
	}
	return &SessionRegistry{repo: repo, metrics: metrics}
}

// Start records a login.
func (r *SessionRegistry) Start(ctx context.Context, rec auth.SessionRecord) error {
	return r.repo.Start(ctx, rec)
}

// End closes the row of sessionID and counts reason.
func (r *SessionRegistry) End(ctx context.Context, sessionID, reason string) error {
	r.metrics.RecordSessionEnd(reason)
	return r.repo.End(ctx, sessionID, reason)
}

// Touch marks the session as seen.
func (r *SessionRegistry) Touch(ctx context.Context, sessionID string) error {
	return r.repo.Touch(ctx, sessionID)
}

// SweepIdle expires rows idle since before cutoff.
func (r *SessionRegistry) SweepIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := r.repo.SweepIdle(ctx, cutoff)
	if err == nil {
		r.metrics.RecordSessionsEnded(auth.EndExpired, n)
	}
	return n, err
}
