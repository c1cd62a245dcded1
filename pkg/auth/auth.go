// Package auth obtains and keeps a usable access token for one server and
// picks the accounts the connector acts as.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/germanamz/mediahub/pkg/apierr"
	"github.com/germanamz/mediahub/pkg/credentials"
	"github.com/germanamz/mediahub/pkg/models"
)

// API is the part of the server surface the negotiator uses.
// *mediabrowser.Client implements it.
type API interface {
	AuthenticateByName(ctx context.Context, username, password string) (models.AuthResult, error)
	AuthKeys(ctx context.Context) error
	Users(ctx context.Context) ([]models.User, error)
}

// Negotiator authenticates against the server and records the outcome in a
// credentials.Store. Its methods are serialized so concurrent callers never
// log in twice for the same expired token.
type Negotiator struct {
	api    API
	creds  *credentials.Store
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a Negotiator. A nil logger falls back to slog.Default().
func New(api API, creds *credentials.Store, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{api: api, creds: creds, logger: logger}
}

// Authenticate logs in with the configured username and password and stores
// the new token. Without a username the stored token is validated instead.
func (n *Negotiator) Authenticate(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.authenticate(ctx)
}

func (n *Negotiator) authenticate(ctx context.Context) (string, error) {
	c := n.creds.Snapshot()

	if !c.HasLogin() {
		if c.Token == "" {
			return "", apierr.New(apierr.Unauthorized, "authenticate", errors.New("no username or api key configured"))
		}
		if err := n.validate(ctx); err != nil {
			return "", err
		}
		return c.Token, nil
	}

	res, err := n.api.AuthenticateByName(ctx, c.Username, c.Password)
	if err != nil {
		return "", fmt.Errorf("auth: authenticate: %w", err)
	}
	if res.AccessToken == "" {
		return "", apierr.New(apierr.Unauthorized, "authenticate", errors.New("server returned no access token"))
	}

	n.creds.SetToken(res.AccessToken, res.User.ID, true)
	n.logger.InfoContext(ctx, "authenticated", "user", c.Username)

	return res.AccessToken, nil
}

// ValidateToken checks the stored token against the server. Success marks
// it validated so Ensure skips the check until the token changes.
func (n *Negotiator) ValidateToken(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.validate(ctx)
}

func (n *Negotiator) validate(ctx context.Context) error {
	if err := n.api.AuthKeys(ctx); err != nil {
		return fmt.Errorf("auth: validate token: %w", err)
	}
	n.creds.MarkValidated()
	return nil
}

// Ensure makes sure a validated token is present. A missing token triggers
// a login; a rejected token triggers exactly one fresh login. Rejected
// credentials come back marked with apierr.Fatal.
func (n *Negotiator) Ensure(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := n.creds.Snapshot()
	if c.Token == "" {
		_, err := n.authenticate(ctx)
		return fatalIfUnauthorized(err)
	}
	if c.Validated {
		return nil
	}

	err := n.validate(ctx)
	if err == nil || !errors.Is(err, apierr.ErrUnauthorized) {
		return err
	}
	if !c.HasLogin() {
		return apierr.Fatal(err)
	}

	n.logger.WarnContext(ctx, "token rejected, logging in again")
	_, err = n.authenticate(ctx)
	return fatalIfUnauthorized(err)
}

// Reauthenticate forgets that the current token was valid and logs in again.
func (n *Negotiator) Reauthenticate(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.creds.Invalidate()
	_, err := n.authenticate(ctx)
	return fatalIfUnauthorized(err)
}

func fatalIfUnauthorized(err error) error {
	if errors.Is(err, apierr.ErrUnauthorized) {
		return apierr.Fatal(err)
	}
	return err
}

// SelectUsers picks the administrator used for server-wide calls and the
// user used for library queries. The query user is the first enabled user
// that sees every library, checking the administrator first, and falls back
// to the administrator.
func SelectUsers(users []models.User) (admin, query models.User, err error) {
	found := false
	for _, u := range users {
		if u.Policy.IsAdministrator && !u.Policy.IsDisabled {
			admin, found = u, true
			break
		}
	}
	if !found {
		return models.User{}, models.User{}, apierr.New(apierr.PermissionDenied, "select users", errors.New("no enabled administrator"))
	}

	if admin.Policy.EnableAllFolders {
		return admin, admin, nil
	}
	for _, u := range users {
		if u.Policy.EnableAllFolders && !u.Policy.IsDisabled {
			return admin, u, nil
		}
	}
	return admin, admin, nil
}

// Impersonate lists the server's users, selects the admin and query users
// and stores their ids.
func (n *Negotiator) Impersonate(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	users, err := n.api.Users(ctx)
	if err != nil {
		if errors.Is(err, apierr.ErrForbidden) {
			return apierr.New(apierr.PermissionDenied, "impersonate", err)
		}
		return fmt.Errorf("auth: impersonate: %w", err)
	}

	admin, query, err := SelectUsers(users)
	if err != nil {
		return err
	}

	n.creds.SetImpersonation(admin.ID, query.ID)
	n.logger.DebugContext(ctx, "impersonating", "admin", admin.Name, "query", query.Name)

	return nil
}
