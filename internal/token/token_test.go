package token

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgu-emis/emis-web/internal/emisapi"
)

var fixedNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	return raw
}

func inspector() *Inspector {
	return NewInspector().WithClock(func() time.Time { return fixedNow })
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("a.b.c"))
	assert.False(t, ValidFormat(""))
	assert.False(t, ValidFormat("a.b"))
	assert.False(t, ValidFormat("a.b.c.d"))
}

func TestExpired(t *testing.T) {
	in := inspector()

	past := sign(t, jwt.MapClaims{"userId": "u-1", "exp": fixedNow.Add(-time.Second).Unix()})
	assert.True(t, in.Expired(past), "one second in the past")

	future := sign(t, jwt.MapClaims{"userId": "u-1", "exp": fixedNow.Add(time.Hour).Unix()})
	assert.False(t, in.Expired(future), "one hour in the future")

	noExp := sign(t, jwt.MapClaims{"userId": "u-1"})
	assert.True(t, in.Expired(noExp), "missing exp fails closed")

	assert.True(t, in.Expired("eyJhbGciOiJIUzI1NiJ9.%%%not-base64%%%.sig"))
	assert.True(t, in.Expired("eyJhbGciOiJIUzI1NiJ9.bm90LWpzb24.sig"), "base64 but not JSON")
	assert.True(t, in.Expired("garbage"))
}

func TestValidateSession(t *testing.T) {
	in := inspector()
	raw := sign(t, jwt.MapClaims{"userId": "u-1", "exp": fixedNow.Add(time.Hour).Unix()})

	assert.True(t, in.ValidateSession(raw, &emisapi.User{ID: "u-1"}))
	assert.False(t, in.ValidateSession(raw, &emisapi.User{ID: "u-2"}), "subject mismatch")
	assert.False(t, in.ValidateSession(raw, nil))
	assert.False(t, in.ValidateSession("", &emisapi.User{ID: "u-1"}))
	assert.False(t, in.ValidateSession("a.b", &emisapi.User{ID: "u-1"}))
	assert.False(t, in.ValidateSession("a.b.c", &emisapi.User{ID: "u-1"}))
}

func TestSubjectFallsBackToSub(t *testing.T) {
	raw := sign(t, jwt.MapClaims{"sub": "u-9", "exp": fixedNow.Add(time.Hour).Unix()})
	subject, err := Subject(raw)
	require.NoError(t, err)
	assert.Equal(t, "u-9", subject)

	numeric := sign(t, jwt.MapClaims{"userId": 42})
	subject, err = Subject(numeric)
	require.NoError(t, err)
	assert.Equal(t, "42", subject)

	_, err = Subject(sign(t, jwt.MapClaims{"exp": 1}))
	assert.ErrorIs(t, err, ErrNoSubject)
}

func TestPayloadReadRegardlessOfHeader(t *testing.T) {
	in := inspector()
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"userId":"u1","exp":1893456000}`))
	headers := []string{
		"x",
		base64.RawURLEncoding.EncodeToString([]byte(`{"typ":"JWT"}`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS999"}`)),
	}
	for _, header := range headers {
		raw := header + "." + payload + ".sig"
		assert.False(t, in.Expired(raw), "header %q", header)
		assert.True(t, in.ValidateSession(raw, &emisapi.User{ID: "u1"}), "header %q", header)
	}
}
