package shared

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

// RememberTTL is how long the login form keeps remembering an email.
const RememberTTL = 30 * 24 * time.Hour

var errRememberInvalid = errors.New("remember-me cookie invalid")

// RememberMe stores the last email in an encrypted cookie. Only the email is
// kept; credentials never leave the login request.
type RememberMe struct {
	cookieName string
	key        [32]byte
	secure     bool
	now        func() time.Time
}

type rememberPayload struct {
	Email     string `json:"email"`
	ExpiresAt int64  `json:"exp"`
}

// NewRememberMe derives the encryption key from secret.
func NewRememberMe(cookieName, secret string, secure bool) *RememberMe {
	return &RememberMe{
		cookieName: cookieName,
		key:        sha256.Sum256([]byte(secret)),
		secure:     secure,
		now:        time.Now,
	}
}

// Remember writes the cookie for email.
func (m *RememberMe) Remember(w http.ResponseWriter, email string) error {
	expires := m.now().Add(RememberTTL)
	raw, err := json.Marshal(rememberPayload{Email: strings.TrimSpace(email), ExpiresAt: expires.Unix()})
	if err != nil {
		return err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nonce[:], raw, &nonce, &m.key)
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    base64.RawURLEncoding.EncodeToString(sealed),
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(RememberTTL.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Forget clears the cookie.
func (m *RememberMe) Forget(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Recall returns the remembered email, or "" when absent, tampered or expired.
func (m *RememberMe) Recall(r *http.Request) string {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return ""
	}
	payload, err := m.open(cookie.Value)
	if err != nil {
		return ""
	}
	if m.now().Unix() > payload.ExpiresAt {
		return ""
	}
	return payload.Email
}

func (m *RememberMe) open(value string) (rememberPayload, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(sealed) < 24+secretbox.Overhead {
		return rememberPayload{}, errRememberInvalid
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	raw, ok := secretbox.Open(nil, sealed[24:], &nonce, &m.key)
	if !ok {
		return rememberPayload{}, errRememberInvalid
	}
	var payload rememberPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return rememberPayload{}, errRememberInvalid
	}
	return payload, nil
}
