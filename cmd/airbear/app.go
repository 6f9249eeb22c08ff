package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/airbear/internal/client"
	"github.com/example/airbear/internal/config"
	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/logging"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/querycache"
	"github.com/example/airbear/internal/session"
	"github.com/example/airbear/internal/supabase"
)

const (
	cacheTTL       = 30 * time.Second
	restoreTimeout = 5 * time.Second
)

var errSignIn = errors.New("not signed in: run `airbear login` or pass --user against an API without auth")

// app holds what every subcommand shares. It is filled in by the root
// command's pre-run so flags and environment are both applied.
type app struct {
	apiURL   string
	userID   string
	logLevel string

	cfg     config.ClientConfig
	log     *slog.Logger
	auth    *supabase.AuthClient
	session *session.Context
	cache   *querycache.Cache
	api     *client.Client
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:          "airbear",
		Short:        "Book solar rickshaw rides and shop the AirBear bodega",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.apiURL, "api", "", "API base URL (default $AIRBEAR_API_URL)")
	pf.StringVar(&a.userID, "user", "", "act as this user id when the API runs without auth")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL)")

	root.AddCommand(
		newSpotsCmd(a),
		newQuoteCmd(a),
		newVehiclesCmd(a),
		newNearbyCmd(a),
		newBookCmd(a),
		newRidesCmd(a),
		newRideStatusCmd(a),
		newLocationCmd(a),
		newTrackCmd(a),
		newBodegaCmd(a),
		newCheckoutCmd(a),
		newOrdersCmd(a),
		newRestockCmd(a),
		newLoginCmd(a),
		newSignupCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
	)
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.APIURL = strings.TrimSuffix(a.apiURL, "/")
	}
	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.cfg = cfg
	a.log = logging.NewLoggerTo(cmd.ErrOrStderr(), "airbear-cli", level)

	a.auth = supabase.NewAuthClient(cfg.Supabase, nil, a.log)
	if a.auth.Enabled() {
		saved, err := loadSession()
		if err != nil {
			a.log.Warn("ignoring saved session", "error", err)
		} else if saved != nil {
			a.auth.Restore(saved)
		}
	}
	a.session = session.New(cmd.Context(), a.auth, a.log)
	select {
	case <-a.session.Ready():
	case <-time.After(restoreTimeout):
		a.log.Warn("session restore timed out, continuing anonymous")
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}

	a.cache = querycache.New(cacheTTL)
	a.api = client.New(cfg.APIURL,
		client.WithToken(a.token),
		client.WithCache(a.cache),
		client.WithLogger(a.log),
	)
	return nil
}

func (a *app) token() string {
	if a.session == nil {
		return ""
	}
	return a.session.Snapshot().AccessToken()
}

// user is the signed-in user, else the --user id. Nil when neither exists.
func (a *app) user() *models.User {
	if a.session != nil {
		if s := a.session.Snapshot(); s.User != nil {
			u := *s.User
			u.Role = s.Role
			return &u
		}
	}
	if a.userID != "" {
		return &models.User{ID: a.userID, Role: models.RoleUser}
	}
	return nil
}

func (a *app) requireUser() (models.User, error) {
	u := a.user()
	if u == nil {
		return models.User{}, errSignIn
	}
	return *u, nil
}

// spots loads the spot table from the API so local estimates use the same
// network the server prices against.
func (a *app) spots(ctx context.Context) (*geo.Table, error) {
	spots, err := a.api.Spots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load spots: %w", err)
	}
	return geo.NewTable(spots), nil
}

// close persists the session for the next invocation.
func (a *app) close() error {
	if a.session == nil {
		return nil
	}
	defer a.session.Close()
	if !a.auth.Enabled() {
		return nil
	}
	return saveSession(a.session.Snapshot().Session)
}
