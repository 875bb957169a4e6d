package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ops-platform/automation-core/authctx"
)

// Middleware bundles the request-scoped concerns every handler needs:
// authentication and request-id stamping. Grounded on the teacher's
// api/middleware.go Middleware struct, trimmed of the user-store/rate-
// limiter fields the teacher's chat-app domain needed but this core's
// out-of-scope list (spec §1: "rate-limiting middleware... out of scope")
// explicitly excludes.
type Middleware struct {
	verifier *authctx.Verifier
}

func NewMiddleware(verifier *authctx.Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// WithRequestID stamps every request with a fresh request id before any
// other middleware runs, so WriteError can always attach one.
func (m *Middleware) WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithRequestID(r.Context(), uuid.New())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth authenticates the caller via Bearer JWT and attaches the
// resulting model.User to the request context; on failure it writes a 401
// directly (spec §6 treats authentication itself as the external
// subsystem's concern, but the core still rejects unauthenticated calls).
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.verifier.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		ctx := authctx.WithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
