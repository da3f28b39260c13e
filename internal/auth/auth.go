// Package auth resolves callers from bearer credentials and answers the two
// policy questions the API asks: is the caller privileged, and does it own
// a resource.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	// ErrUnauthorized is returned when credentials are missing or invalid.
	ErrUnauthorized = errors.New("invalid or missing bearer token")
	// ErrForbidden is returned when an authenticated caller lacks access.
	ErrForbidden = errors.New("caller is not allowed to perform this action")
)

// Role classifies a caller.
type Role string

const (
	RoleUser       Role = "user"
	RolePrivileged Role = "privileged"
	// RoleInternal is a trusted service caller, such as a scheduler driving
	// job continuations.
	RoleInternal Role = "internal"
)

// LocalCallerID identifies the caller when authentication is disabled.
const LocalCallerID = "local"

// Caller is an authenticated principal.
type Caller struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Privileged reports whether the caller may create and continue jobs.
func (c Caller) Privileged() bool {
	return c.Role == RolePrivileged || c.Role == RoleInternal
}

// Owns reports whether the caller may access a resource owned by ownerID.
// Internal callers own everything.
func (c Caller) Owns(ownerID string) bool {
	return c.Role == RoleInternal || (c.ID != "" && c.ID == ownerID)
}

// RequirePrivileged returns ErrForbidden unless the caller is privileged.
func (c Caller) RequirePrivileged() error {
	if !c.Privileged() {
		return ErrForbidden
	}
	return nil
}

// RequireOwner returns ErrForbidden unless the caller owns the resource.
func (c Caller) RequireOwner(ownerID string) error {
	if !c.Owns(ownerID) {
		return ErrForbidden
	}
	return nil
}

// Token maps a bearer credential to a caller.
type Token struct {
	Token    string
	CallerID string
	Role     Role
}

// TokenAuthorizer authenticates bearer tokens against a fixed table.
type TokenAuthorizer struct {
	tokens   []Token
	disabled bool
}

// NewTokenAuthorizer creates an authorizer. Tokens with an empty credential
// are ignored. Unknown roles are treated as RoleUser.
func NewTokenAuthorizer(tokens []Token) *TokenAuthorizer {
	a := &TokenAuthorizer{}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		switch t.Role {
		case RolePrivileged, RoleInternal:
		default:
			t.Role = RoleUser
		}
		if t.CallerID == "" {
			t.CallerID = string(t.Role)
		}
		a.tokens = append(a.tokens, t)
	}
	return a
}

// Disabled returns an authorizer that treats every request as a local
// privileged caller.
func Disabled() *TokenAuthorizer {
	return &TokenAuthorizer{disabled: true}
}

// Authenticate resolves an Authorization header value to a caller.
func (a *TokenAuthorizer) Authenticate(header string) (Caller, error) {
	if a.disabled {
		return Caller{ID: LocalCallerID, Role: RolePrivileged}, nil
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Caller{}, ErrUnauthorized
	}
	presented := []byte(strings.TrimSpace(header[len(prefix):]))
	if len(presented) == 0 {
		return Caller{}, ErrUnauthorized
	}

	var match *Token
	for i := range a.tokens {
		// Compare every token so timing does not reveal the table position.
		if subtle.ConstantTimeCompare(presented, []byte(a.tokens[i].Token)) == 1 && match == nil {
			match = &a.tokens[i]
		}
	}
	if match == nil {
		return Caller{}, ErrUnauthorized
	}
	return Caller{ID: match.CallerID, Role: match.Role}, nil
}

type callerKey struct{}

// WithCaller returns a context carrying the caller.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
