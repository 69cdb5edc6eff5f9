package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/jobmetrics"
	"github.com/lgu-emis/emis-web/internal/shared"
)

// SessionStore is the session access the verify job needs.
type SessionStore interface {
	LoadByID(ctx context.Context, id string) (*shared.Session, error)
	Revoke(ctx context.Context, id string) error
}

// TokenVerifier checks a bearer token with the EMIS API.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) error
}

// SessionRegistry tracks portal logins.
type SessionRegistry interface {
	End(ctx context.Context, sessionID, reason string) error
	Touch(ctx context.Context, sessionID string) error
}

// SessionVerifyJob re-checks stored bearer tokens with the EMIS API. Only a
// 401 ends the session; every other failure leaves it in place.
type SessionVerifyJob struct {
	Sessions SessionStore
	API      TokenVerifier
	Registry SessionRegistry
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewSessionVerifyJob wires dependencies for the verify handler.
func NewSessionVerifyJob(sessions SessionStore, api TokenVerifier, registry SessionRegistry, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionVerifyJob {
	return &SessionVerifyJob{Sessions: sessions, API: api, Registry: registry, Logger: logger, Metrics: metrics}
}

// Handle processes TaskSessionVerify tasks.
func (j *SessionVerifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sessions == nil || j.API == nil {
		return errors.New("session verify: handler not configured")
	}
	var payload SessionVerifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.SessionID == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskSessionVerify)
	outcome, err := j.verify(ctx, payload.SessionID)
	j.Metrics.AddVerification(outcome)
	return tracker.End(err)
}

func (j *SessionVerifyJob) verify(ctx context.Context, sessionID string) (string, error) {
	logger := j.logger().With(slog.String("session_id", sessionID))

	sess, err := j.Sessions.LoadByID(ctx, sessionID)
	if errors.Is(err, shared.ErrSessionNotFound) {
		return jobmetrics.OutcomeSkipped, nil
	}
	if err != nil {
		logger.Error("load session", slog.Any("error", err))
		return jobmetrics.OutcomeFailed, err
	}
	token := sess.Get(shared.SessionTokenKey)
	if token == "" {
		return jobmetrics.OutcomeSkipped, nil
	}

	err = j.API.VerifyToken(ctx, token)
	switch {
	case err == nil:
		if j.Registry != nil {
			if err := j.Registry.Touch(ctx, sessionID); err != nil {
				logger.Warn("touch registry row", slog.Any("error", err))
			}
		}
		return jobmetrics.OutcomeValid, nil
	case emisapi.IsUnauthorized(err):
		if err := j.Sessions.Revoke(ctx, sessionID); err != nil {
			logger.Error("delete revoked session", slog.Any("error", err))
			return jobmetrics.OutcomeFailed, err
		}
		if j.Registry != nil {
			if err := j.Registry.End(ctx, sessionID, "revoked"); err != nil {
				logger.Warn("close registry row", slog.Any("error", err))
			}
		}
		logger.Info("session revoked by upstream", slog.String("user_id", sess.User()))
		return jobmetrics.OutcomeRevoked, nil
	default:
		logger.Warn("token verification unavailable, keeping session",
			slog.Int("status", emisapi.StatusOf(err)), slog.Any("error", err))
		return jobmetrics.OutcomeFailed, nil
	}
}

func (j *SessionVerifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
