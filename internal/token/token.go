// Package token inspects upstream bearer tokens without verifying their
// signature. The result is a plausibility check used to decide whether a
// page is worth rendering; the EMIS API stays the authority on every call.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lgu-emis/emis-web/internal/emisapi"
)

// ErrNoSubject is returned when the payload carries neither userId nor sub.
var ErrNoSubject = errors.New("token: subject claim missing")

var parser = jwt.NewParser(jwt.WithJSONNumber(), jwt.WithPaddingAllowed())

// ValidFormat reports whether raw has exactly three dot-separated segments.
func ValidFormat(raw string) bool {
	return raw != "" && strings.Count(raw, ".") == 2
}

// Inspector evaluates token claims against a clock.
type Inspector struct {
	now func() time.Time
}

// NewInspector returns an Inspector using the wall clock.
func NewInspector() *Inspector {
	return &Inspector{now: time.Now}
}

// WithClock returns a copy that reads time from now.
func (i *Inspector) WithClock(now func() time.Time) *Inspector {
	return &Inspector{now: now}
}

// Expired reports whether raw is past its exp claim. Undecodable payloads
// and payloads without exp count as expired.
func (i *Inspector) Expired(raw string) bool {
	claims, err := decode(raw)
	if err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return exp.Time.Unix() < i.clock().Unix()
}

// ValidateSession checks that raw is well formed and names user as its
// subject. It does not look at expiry; callers combine it with Expired.
func (i *Inspector) ValidateSession(raw string, user *emisapi.User) bool {
	if raw == "" || user == nil || user.ID == "" {
		return false
	}
	if !ValidFormat(raw) {
		return false
	}
	subject, err := Subject(raw)
	if err != nil {
		return false
	}
	return subject == user.ID
}

// Subject returns the userId claim, falling back to sub.
func Subject(raw string) (string, error) {
	claims, err := decode(raw)
	if err != nil {
		return "", err
	}
	for _, key := range []string{"userId", "sub"} {
		if id := claimString(claims[key]); id != "" {
			return id, nil
		}
	}
	return "", ErrNoSubject
}

func (i *Inspector) clock() time.Time {
	if i == nil || i.now == nil {
		return time.Now()
	}
	return i.now()
}

func decode(raw string) (jwt.MapClaims, error) {
	if !ValidFormat(raw) {
		return nil, jwt.ErrTokenMalformed
	}
	// Only the payload segment is read; the header is never consulted.
	payload, err := parser.DecodeSegment(strings.Split(raw, ".")[1])
	if err != nil {
		return nil, errors.Join(jwt.ErrTokenMalformed, err)
	}
	claims := jwt.MapClaims{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return nil, errors.Join(jwt.ErrTokenMalformed, err)
	}
	return claims, nil
}

func claimString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
