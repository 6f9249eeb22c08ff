package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/airbear/internal/logging"
	"github.com/example/airbear/internal/models"
)

type fakeProvider struct {
	mu       sync.Mutex
	restore  *models.AuthSession
	signIn   *models.AuthSession
	signErr  error
	outErr   error
	signedUp models.Role
	changes  chan AuthEvent
	block    chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{changes: make(chan AuthEvent, 8)}
}

func (f *fakeProvider) CurrentSession(ctx context.Context) (*models.AuthSession, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.restore, nil
}

func (f *fakeProvider) SignIn(context.Context, string, string) (*models.AuthSession, error) {
	return f.signIn, f.signErr
}

func (f *fakeProvider) SignUp(_ context.Context, _, _ string, role models.Role) (*models.AuthSession, error) {
	f.mu.Lock()
	f.signedUp = role
	f.mu.Unlock()
	return f.signIn, f.signErr
}

func (f *fakeProvider) SignOut(context.Context) error { return f.outErr }

func (f *fakeProvider) Changes() <-chan AuthEvent { return f.changes }

func sessionFor(id string, role models.Role) *models.AuthSession {
	return &models.AuthSession{AccessToken: "tok-" + id, User: models.User{ID: id, Email: id + "@airbear.me", Role: role}}
}

func waitReady(t *testing.T, c *Context) {
	t.Helper()
	select {
	case <-c.Ready():
	case <-time.After(time.Second):
		t.Fatal("session never settled")
	}
}

func TestRestoreExistingSession(t *testing.T) {
	p := newFakeProvider()
	p.restore = sessionFor("u1", models.RoleDriver)
	c := New(context.Background(), p, logging.Discard())
	defer c.Close()

	waitReady(t, c)
	s := c.Snapshot()
	assert.Equal(t, Authenticated, s.State)
	assert.Equal(t, models.RoleDriver, s.Role)
	assert.Equal(t, "tok-u1", s.AccessToken())
}

func TestStartsLoadingThenAnonymous(t *testing.T) {
	p := newFakeProvider()
	p.block = make(chan struct{})
	c := New(context.Background(), p, logging.Discard())
	defer c.Close()

	assert.Equal(t, Loading, c.Snapshot().State)
	close(p.block)
	waitReady(t, c)
	s := c.Snapshot()
	assert.Equal(t, Anonymous, s.State)
	assert.Equal(t, models.RoleUser, s.Role)
	assert.Nil(t, s.User)
}

func TestSignInFailureLandsAnonymousWithMessage(t *testing.T) {
	p := newFakeProvider()
	p.signErr = errors.New("Invalid login credentials")
	c := New(context.Background(), p, logging.Discard())
	defer c.Close()
	waitReady(t, c)

	err := c.SignIn(context.Background(), "a@b.c", "nope")
	require.Error(t, err)
	s := c.Snapshot()
	assert.Equal(t, Anonymous, s.State)
	assert.Equal(t, "Invalid login credentials", s.Err)
}

func TestSignUpPassesParsedRole(t *testing.T) {
	p := newFakeProvider()
	p.signIn = sessionFor("u2", models.RoleUser)
	c := New(context.Background(), p, logging.Discard())
	defer c.Close()
	waitReady(t, c)

	require.NoError(t, c.SignUp(context.Background(), "a@b.c", "pw", models.Role("Captain")))
	p.mu.Lock()
	assert.Equal(t, models.RoleUser, p.signedUp)
	p.mu.Unlock()
	assert.Equal(t, Authenticated, c.Snapshot().State)
}

func TestSignOutAlwaysAnonymous(t *testing.T) {
	p := newFakeProvider()
	p.restore = sessionFor("u1", models.RoleUser)
	p.outErr = errors.New("network down")
	c := New(context.Background(), p, logging.Discard())
	defer c.Close()
	waitReady(t, c)

	assert.Error(t, c.SignOut(context.Background()))
	assert.Equal(t, Anonymous, c.Snapshot().State)
}

func TestProviderEventsLastWriteWins(t *testing.T) {
	p := newFakeProvider()
	c := New(context.Background(), p, logging.Discard())
	defer c.Close()
	waitReady(t, c)

	p.changes <- AuthEvent{Session: sessionFor("u1", models.RoleUser)}
	p.changes <- AuthEvent{}
	p.changes <- AuthEvent{Session: sessionFor("u3", models.RoleAdmin)}

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.State == Authenticated && s.User != nil && s.User.ID == "u3"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.RoleAdmin, c.Snapshot().Role)
}

func TestWatchCoalescesToLatest(t *testing.T) {
	p := newFakeProvider()
	c := New(context.Background(), p, logging.Discard())
	waitReady(t, c)

	w, stop := c.Watch()
	defer stop()

	p.signIn = sessionFor("u1", models.RoleDriver)
	require.NoError(t, c.SignIn(context.Background(), "a", "b"))

	s := <-w
	assert.Equal(t, Authenticated, s.State)
	select {
	case extra := <-w:
		t.Fatalf("expected a single coalesced snapshot, got %v", extra.State)
	default:
	}

	c.Close()
	_, open := <-w
	assert.False(t, open, "close must release watchers")
}
