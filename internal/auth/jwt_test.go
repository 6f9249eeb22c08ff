package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/airbear/internal/models"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("super-secret")
	tok, err := v.Issue(models.User{ID: "u1", Email: "a@b.c", Role: models.RoleDriver}, time.Hour)
	require.NoError(t, err)

	u, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "a@b.c", u.Email)
	assert.Equal(t, models.RoleDriver, u.Role)
}

func TestUserMetadataNeverGrantsRole(t *testing.T) {
	v := NewVerifier("super-secret")
	claims := &Claims{
		UserMetadata: []byte(`{"role":"admin"}`),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u2",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("super-secret"))
	require.NoError(t, err)

	u, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, u.Role)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("super-secret")

	expired, err := v.Issue(models.User{ID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewVerifier("other").Issue(models.User{ID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestDisabledVerifier(t *testing.T) {
	v := NewVerifier("")
	assert.False(t, v.Enabled())
	_, err := v.Verify("anything")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = v.Issue(models.User{ID: "u1"}, time.Hour)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/me", nil)
	r.Header.Set("Authorization", "Bearer abc.def")
	assert.Equal(t, "abc.def", BearerToken(r))

	ws := httptest.NewRequest("GET", "/ws?access_token=xyz", nil)
	assert.Equal(t, "xyz", BearerToken(ws))

	none := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, BearerToken(none))
}
