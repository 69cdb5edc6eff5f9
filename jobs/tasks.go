package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionVerify re-checks a portal session's bearer token upstream.
	TaskSessionVerify = "session:verify"
	// TaskRegistrySweep closes registry rows of sessions that went idle.
	TaskRegistrySweep = "registry:sweep"
)

// ErrEmptySessionID is returned when a verify task is built without a session.
var ErrEmptySessionID = errors.New("jobs: session id required")

// SessionVerifyPayload names the portal session to re-verify.
type SessionVerifyPayload struct {
	SessionID string `json:"session_id"`
}

// NewSessionVerifyTask constructs an Asynq task.
func NewSessionVerifyTask(sessionID string) (*asynq.Task, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	data, err := json.Marshal(SessionVerifyPayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionVerify, data), nil
}

// RegistrySweepPayload configures one sweep run.
type RegistrySweepPayload struct {
	IdleAfter time.Duration `json:"idle_after"`
}

// NewRegistrySweepTask constructs an Asynq task.
func NewRegistrySweepTask(idleAfter time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(RegistrySweepPayload{IdleAfter: idleAfter})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRegistrySweep, data), nil
}
