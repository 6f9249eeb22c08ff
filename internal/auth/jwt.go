package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/airbear/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoToken      = errors.New("missing bearer token")
	ErrDisabled     = errors.New("token verification not configured")
)

const audience = "authenticated"

// Claims is the subset of a Supabase access token the API reads.
type Claims struct {
	Email        string          `json:"email,omitempty"`
	AppMetadata  json.RawMessage `json:"app_metadata,omitempty"`
	UserMetadata json.RawMessage `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 access tokens signed with the project's JWT secret.
// The role is read from app_metadata only; user_metadata is writable by the
// user and never grants privileges.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Enabled() bool { return v != nil && len(v.secret) > 0 }

func (v *Verifier) Verify(token string) (models.User, error) {
	if !v.Enabled() {
		return models.User{}, ErrDisabled
	}
	if token == "" {
		return models.User{}, ErrNoToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithAudience(audience), jwt.WithExpirationRequired())
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return models.User{}, ErrInvalidToken
	}
	return models.User{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  models.RoleFromMetadata(claims.AppMetadata),
	}, nil
}

// Issue signs a token the way the auth provider would. Used by tests and
// local tooling.
func (v *Verifier) Issue(user models.User, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrDisabled
	}
	now := time.Now()
	appMeta, err := json.Marshal(map[string]string{"role": string(models.ParseRole(user.Role))})
	if err != nil {
		return "", err
	}
	claims := &Claims{
		Email:       user.Email,
		AppMetadata: appMeta,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header, falling back
// to the access_token query parameter used by websocket clients.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return r.URL.Query().Get("access_token")
}

type ctxKey struct{}

func WithUser(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func UserFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(models.User)
	return u, ok
}
