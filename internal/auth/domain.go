package auth

import "time"

// SessionRecord is one portal login as stored in the session registry.
type SessionRecord struct {
	SessionID  string
	// PreviousID is the id the session carried before login rotated it.
	PreviousID string
	UserID     string
	Email      string
	RemoteAddr string
	UserAgent  string
	CreatedAt  time.Time
}

// End reasons recorded in the registry.
const (
	EndLogout  = "logout"
	EndLocked  = "locked"
	EndRevoked = "revoked"
	EndInvalid = "invalid"
	EndExpired = "expired"
	EndRenewed = "renewed"
)
