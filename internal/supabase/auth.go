package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/example/airbear/internal/config"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/session"
)

var (
	ErrNotConfigured        = errors.New("supabase auth not configured")
	ErrConfirmationRequired = errors.New("check your email to confirm the account")
)

// Error is a non-2xx answer from the auth API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("supabase auth %d: %s", e.Status, e.Message) }

// AuthClient talks to the GoTrue REST API. Without credentials it is inert:
// every call fails with ErrNotConfigured and there is never a session.
type AuthClient struct {
	baseURL string
	anonKey string
	http    *http.Client
	log     *slog.Logger

	mu      sync.Mutex
	current *models.AuthSession
	changes chan session.AuthEvent
}

func NewAuthClient(cfg config.SupabaseConfig, httpClient *http.Client, log *slog.Logger) *AuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	c := &AuthClient{
		http:    httpClient,
		log:     log,
		changes: make(chan session.AuthEvent, 1),
	}
	if cfg.AuthEnabled() {
		c.baseURL = strings.TrimSuffix(cfg.URL, "/")
		c.anonKey = cfg.AnonKey
	} else {
		log.Warn("supabase credentials missing, auth runs in mock mode")
	}
	return c
}

func (c *AuthClient) Enabled() bool { return c.baseURL != "" }

type gotrueUser struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	AppMetadata  json.RawMessage `json:"app_metadata"`
	UserMetadata json.RawMessage `json:"user_metadata"`
}

func (u gotrueUser) toUser() models.User {
	return models.User{ID: u.ID, Email: u.Email, Role: models.ClientRole(u.UserMetadata, u.AppMetadata)}
}

type gotrueSession struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         *gotrueUser `json:"user"`
}

func (s gotrueSession) toSession() *models.AuthSession {
	out := &models.AuthSession{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		out.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	if s.User != nil {
		out.User = s.User.toUser()
		out.UserMetadata = s.User.UserMetadata
	}
	return out
}

func (c *AuthClient) do(ctx context.Context, method, path, token string, body, out any) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("supabase auth %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func errorMessage(raw []byte, fallback string) string {
	var e struct {
		Description string `json:"error_description"`
		Msg         string `json:"msg"`
		Message     string `json:"message"`
		Error       string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		for _, m := range []string{e.Description, e.Msg, e.Message, e.Error} {
			if m != "" {
				return m
			}
		}
	}
	return fallback
}

// PasswordGrant exchanges credentials for a session without touching the
// client's own state. The API server proxies logins through it.
func (c *AuthClient) PasswordGrant(ctx context.Context, email, password string) (*models.AuthSession, error) {
	var s gotrueSession
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", map[string]string{"email": email, "password": password}, &s); err != nil {
		return nil, err
	}
	return s.toSession(), nil
}

// Register creates an account. The requested role is stored in
// user_metadata, which only the client UI reads.
func (c *AuthClient) Register(ctx context.Context, email, password string, role models.Role) (*models.AuthSession, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"role": string(models.ParseRole(role))},
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", body, &raw); err != nil {
		return nil, err
	}
	var s gotrueSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, ErrConfirmationRequired
	}
	return s.toSession(), nil
}

func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (*models.AuthSession, error) {
	var s gotrueSession
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", map[string]string{"refresh_token": refreshToken}, &s); err != nil {
		return nil, err
	}
	return s.toSession(), nil
}

func (c *AuthClient) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil, nil)
}

func (c *AuthClient) GetUser(ctx context.Context, accessToken string) (models.User, error) {
	var u gotrueUser
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &u); err != nil {
		return models.User{}, err
	}
	return u.toUser(), nil
}

// Restore seeds the client with a previously saved session (the CLI keeps
// one on disk).
func (c *AuthClient) Restore(s *models.AuthSession) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
}

// CurrentSession returns the held session, refreshing it when it expired.
func (c *AuthClient) CurrentSession(ctx context.Context) (*models.AuthSession, error) {
	if !c.Enabled() {
		return nil, nil
	}
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return nil, nil
	}
	if cur.ExpiresAt.IsZero() || time.Now().Before(cur.ExpiresAt) {
		return cur, nil
	}
	if cur.RefreshToken == "" {
		c.setCurrent(nil)
		return nil, nil
	}
	fresh, err := c.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		c.setCurrent(nil)
		return nil, err
	}
	c.setCurrent(fresh)
	return fresh, nil
}

func (c *AuthClient) SignIn(ctx context.Context, email, password string) (*models.AuthSession, error) {
	s, err := c.PasswordGrant(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.setCurrent(s)
	return s, nil
}

func (c *AuthClient) SignUp(ctx context.Context, email, password string, role models.Role) (*models.AuthSession, error) {
	s, err := c.Register(ctx, email, password, role)
	if err != nil {
		return nil, err
	}
	c.setCurrent(s)
	return s, nil
}

// SignOut drops the local session even when the server call fails.
func (c *AuthClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	var err error
	if cur != nil && c.Enabled() {
		err = c.Logout(ctx, cur.AccessToken)
	}
	c.setCurrent(nil)
	return err
}

func (c *AuthClient) Changes() <-chan session.AuthEvent { return c.changes }

// setCurrent stores s and publishes it. Changes holds at most one pending
// event, so a slow listener still ends up on the latest session.
func (c *AuthClient) setCurrent(s *models.AuthSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = s
	select {
	case <-c.changes:
		c.log.Debug("superseded pending auth change")
	default:
	}
	c.changes <- session.AuthEvent{Session: s}
}
