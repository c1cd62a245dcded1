// Package credentials holds the authentication state of one server
// connection. The Store is shared by the REST layer, the auth negotiator and
// the push link, so every accessor is safe for concurrent use.
package credentials

import "sync"

// Credentials is a point-in-time copy of the store.
type Credentials struct {
	Username string
	Password string

	Token       string
	UserID      string
	AdminUserID string
	QueryUserID string

	// Validated is true once the token was accepted by the server. It is
	// dropped whenever the token changes.
	Validated bool
}

// HasLogin reports whether a username is configured.
func (c Credentials) HasLogin() bool { return c.Username != "" }

// Store is a thread-safe credential holder. The zero value is ready to use.
type Store struct {
	mu sync.RWMutex
	c  Credentials
}

// New returns a store seeded with c. Validated is always cleared.
func New(c Credentials) *Store {
	c.Validated = false
	return &Store{c: c}
}

// Snapshot returns a copy of the current credentials.
func (s *Store) Snapshot() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.c
}

// Token returns the current access token, or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.c.Token
}

// SetToken replaces the token and the user it belongs to. The new token is
// treated as validated when it comes straight from a successful login.
func (s *Store) SetToken(token, userID string, validated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.Token = token
	if userID != "" {
		s.c.UserID = userID
	}
	s.c.Validated = validated
}

// MarkValidated records that the current token was accepted.
func (s *Store) MarkValidated() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c.Token != "" {
		s.c.Validated = true
	}
}

// Invalidate drops the validated flag so the next Ensure re-checks the token.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.Validated = false
}

// SetImpersonation stores the admin and query user ids.
func (s *Store) SetImpersonation(adminID, queryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.AdminUserID = adminID
	s.c.QueryUserID = queryID
}

// Impersonated reports whether admin and query users have been selected.
func (s *Store) Impersonated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.c.AdminUserID != "" && s.c.QueryUserID != ""
}

// QueryUser returns the user id used for library queries: the impersonated
// query user, else the logged-in user.
func (s *Store) QueryUser() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.c.QueryUserID != "" {
		return s.c.QueryUserID
	}
	return s.c.UserID
}
