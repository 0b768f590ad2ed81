// Package identity tracks the currently authenticated identity and its
// derived role, and gates outbound synchronization on it.
//
// Role resolution is advisory metadata for presentation only; the engine's
// gating checks authenticated-or-not, never the role. Access control proper is
// enforced by the remote store's own rules.
package identity

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRole is used when neither the token claim nor the profile document
// names a role.
const DefaultRole = "crew"

// User is the raw authenticated user exposed by the auth provider.
type User struct {
	UID   string
	Email string
}

// AuthProvider is the external authentication surface consumed here. The
// hosted backend implements it; tests use a fake.
type AuthProvider interface {
	// SignIn authenticates with email and password.
	SignIn(ctx context.Context, email, password string) (*User, error)

	// SignOut ends the current session.
	SignOut(ctx context.Context) error

	// Token returns a fresh auth token for the current user.
	Token(ctx context.Context) (string, error)

	// OnStateChange registers a callback fired with the new user on every
	// authentication transition (nil on sign-out).
	OnStateChange(fn func(*User))
}

// Identity is the resolved authenticated identity.
type Identity struct {
	UID  string
	Role string
}

// ProfileReader looks up the explicit role of a per-user profile document.
// The remote users collection adapter satisfies it.
type ProfileReader interface {
	Role(ctx context.Context, uid string) (string, bool, error)
}

// Gate resolves identities on auth transitions and exposes the current one.
type Gate struct {
	provider AuthProvider
	users    ProfileReader
	logger   *log.Logger

	mu        sync.Mutex
	current   *Identity
	listeners []func(*Identity)
}

// NewGate creates a gate bound to an auth provider. users may be nil when the
// backend is unavailable; role resolution then falls back to token claims.
//
// If logger is nil, a default logger writing to stderr is used.
func NewGate(provider AuthProvider, users ProfileReader, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.New(os.Stderr, "[gate] ", log.LstdFlags)
	}
	g := &Gate{
		provider: provider,
		users:    users,
		logger:   logger,
	}
	provider.OnStateChange(g.handleAuthState)
	return g
}

// Current returns the resolved identity, or nil while unauthenticated.
func (g *Gate) Current() *Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return nil
	}
	id := *g.current
	return &id
}

// Authenticated reports whether an identity is signed in. This is the only
// check the write path performs.
func (g *Gate) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil
}

// OnChange registers a listener fired after every identity transition with
// the new identity (nil on sign-out).
func (g *Gate) OnChange(fn func(*Identity)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *Gate) handleAuthState(user *User) {
	var id *Identity
	if user != nil {
		id = &Identity{
			UID:  user.UID,
			Role: g.resolveRole(context.Background(), user.UID),
		}
		g.logger.Printf("Signed in: uid=%s role=%s", id.UID, id.Role)
	} else {
		g.logger.Printf("Signed out")
	}

	g.mu.Lock()
	g.current = id
	listeners := make([]func(*Identity), len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
}

// resolveRole applies the role precedence: explicit profile document role,
// then auth-token claim, then the default. Both lookups are best-effort; a
// failure never blocks sign-in, it only affects the displayed role.
func (g *Gate) resolveRole(ctx context.Context, uid string) string {
	role := DefaultRole

	if tok, err := g.provider.Token(ctx); err != nil {
		g.logger.Printf("Warning: failed to fetch token: %v", err)
	} else if claim := roleClaim(tok); claim != "" {
		role = claim
	}

	if g.users != nil {
		if profileRole, ok, err := g.users.Role(ctx, uid); err != nil {
			g.logger.Printf("Warning: failed to read profile for %s: %v", uid, err)
		} else if ok {
			role = profileRole
		}
	}

	return role
}

// roleClaim extracts the embedded role claim from an auth token. The token's
// signature was already verified by the backend that issued it; only the
// claim payload matters here.
func roleClaim(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	role, _ := claims["role"].(string)
	return role
}
