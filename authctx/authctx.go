// Package authctx adapts the external "getCurrentUser" collaborator named
// in spec §6: the engine never owns identity, it only trusts an
// already-issued JWT asserting who the caller is. Grounded on the teacher's
// api/middleware.go Bearer-token parsing, trimmed of its own user-store
// lookup (`m.users.Get`) — this core never queries the identity subsystem
// for the user record itself, only its own operational_roles table for
// authorisation (DESIGN NOTES §9), which callers do separately via
// store.Store.GetOperationalRoles.
package authctx

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ops-platform/automation-core/model"
)

type contextKey int

const contextKeyUser contextKey = iota

// WithUser returns a new context carrying the authenticated caller.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, u)
}

// UserFromContext extracts the authenticated caller, or nil if none.
func UserFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(contextKeyUser).(*model.User)
	return u
}

// Verifier validates a bearer token and extracts the caller's identity
// claims. It never contacts a user store — those claims ARE the
// authentication decision, made upstream by the user-admin subsystem that
// minted the token.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Authenticate parses the Authorization: Bearer header and returns the
// model.User it asserts. Mirrors the teacher's authenticate() method
// exactly in control flow (header presence, scheme, HMAC-only algorithm
// pinning, claim extraction) but reads userId/username/isSystemAdmin claims
// instead of looking the subject up in a database.
func (v *Verifier) Authenticate(r *http.Request) (*model.User, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, jwt.ErrTokenMalformed
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, jwt.ErrTokenMalformed
	}
	tokenStr := parts[1]

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, jwt.ErrTokenMalformed
	}
	username, _ := claims["username"].(string)
	isAdmin, _ := claims["isSystemAdmin"].(bool)

	return &model.User{ID: sub, Username: username, IsSystemAdmin: isAdmin}, nil
}
