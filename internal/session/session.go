package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/airbear/internal/models"
)

type State int

const (
	Loading State = iota
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	}
	return "unknown"
}

// AuthEvent is a provider-originated auth change. A nil Session means the
// user is signed out.
type AuthEvent struct {
	Session *models.AuthSession
}

// Provider is the auth backend the session context drives.
type Provider interface {
	// CurrentSession restores a persisted session; nil when there is none.
	CurrentSession(ctx context.Context) (*models.AuthSession, error)
	SignIn(ctx context.Context, email, password string) (*models.AuthSession, error)
	SignUp(ctx context.Context, email, password string, role models.Role) (*models.AuthSession, error)
	SignOut(ctx context.Context) error
	// Changes delivers auth changes in the order they happen. May be nil.
	Changes() <-chan AuthEvent
}

// Snapshot is an immutable view of the session state.
type Snapshot struct {
	State   State
	User    *models.User
	Role    models.Role
	Session *models.AuthSession
	Err     string
}

// AccessToken returns the bearer token, empty when anonymous.
func (s Snapshot) AccessToken() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.AccessToken
}

// Context owns the authenticated principal for one client. Create it with
// New and release it with Close.
type Context struct {
	provider Provider
	log      *slog.Logger

	mu       sync.Mutex
	snap     Snapshot
	watchers map[int]chan Snapshot
	nextID   int
	ready    chan struct{}
	readied  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts in Loading, restores any existing session in the background and
// then applies provider events in arrival order.
func New(ctx context.Context, p Provider, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Context{
		provider: p,
		log:      log,
		snap:     Snapshot{State: Loading, Role: models.RoleUser},
		watchers: make(map[int]chan Snapshot),
		ready:    make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

func (c *Context) run(ctx context.Context) {
	defer close(c.done)
	sess, err := c.provider.CurrentSession(ctx)
	switch {
	case err != nil:
		c.log.Warn("restore session failed", "error", err)
		c.set(anonymous(err))
	case sess == nil:
		c.set(anonymous(nil))
	default:
		c.set(authenticated(sess))
	}

	changes := c.provider.Changes()
	if changes == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				<-ctx.Done()
				return
			}
			if ev.Session == nil {
				c.set(anonymous(nil))
			} else {
				c.set(authenticated(ev.Session))
			}
		}
	}
}

func anonymous(err error) Snapshot {
	s := Snapshot{State: Anonymous, Role: models.RoleUser}
	if err != nil {
		s.Err = err.Error()
	}
	return s
}

func authenticated(sess *models.AuthSession) Snapshot {
	u := sess.User
	u.Role = models.ParseRole(u.Role)
	return Snapshot{State: Authenticated, User: &u, Role: u.Role, Session: sess}
}

func (c *Context) set(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = s
	if s.State != Loading && !c.readied {
		c.readied = true
		close(c.ready)
	}
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Ready is closed once the initial restore has settled.
func (c *Context) Ready() <-chan struct{} { return c.ready }

// Watch returns a channel holding the latest snapshot. Slow readers only see
// the most recent state. The returned func stops the watch.
func (c *Context) Watch() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan Snapshot, 1)
	ch <- c.snap
	c.watchers[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(ch)
		}
	}
}

func (c *Context) SignIn(ctx context.Context, email, password string) error {
	c.set(Snapshot{State: Loading, Role: models.RoleUser})
	sess, err := c.provider.SignIn(ctx, email, password)
	return c.settle(sess, err)
}

func (c *Context) SignUp(ctx context.Context, email, password string, role models.Role) error {
	c.set(Snapshot{State: Loading, Role: models.RoleUser})
	sess, err := c.provider.SignUp(ctx, email, password, models.ParseRole(role))
	return c.settle(sess, err)
}

func (c *Context) settle(sess *models.AuthSession, err error) error {
	if err == nil && sess == nil {
		err = errors.New("no session returned")
	}
	if err != nil {
		c.set(anonymous(err))
		return err
	}
	c.set(authenticated(sess))
	return nil
}

// SignOut always lands on Anonymous; a provider error is still returned.
func (c *Context) SignOut(ctx context.Context) error {
	err := c.provider.SignOut(ctx)
	if err != nil {
		c.log.Warn("sign out failed", "error", err)
	}
	c.set(anonymous(nil))
	return err
}

// Close stops applying provider events and closes every watch channel.
func (c *Context) Close() {
	c.cancel()
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.watchers {
		delete(c.watchers, id)
		close(ch)
	}
}
