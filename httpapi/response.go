// Package httpapi implements spec §6's HTTP endpoint table over the
// orders/automation/sales/inventory services. Grounded on the teacher's
// api/response.go envelope and api/router.go's Go 1.22+ ServeMux
// method+path routing, rebuilt against this domain's endpoint list instead
// of the teacher's chat-app route table.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ops-platform/automation-core/coreerr"
)

// envelope mirrors the teacher's api.envelope shape, with a requestId added
// per spec §7's "every error response body includes... requestId."
type envelope struct {
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type paginatedEnvelope struct {
	Data   any `json:"data"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func WritePaginated(w http.ResponseWriter, items any, limit, offset int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(paginatedEnvelope{Data: items, Limit: limit, Offset: offset})
}

// WriteError maps a coreerr.Kind to its HTTP status per spec §7's taxonomy
// table and attaches the request id the caller's middleware stamped onto
// the request context.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	detail := "internal error"
	reason := ""

	if e, ok := coreerr.As(err); ok {
		detail = e.Detail
		reason = e.Reason
		switch e.Kind {
		case coreerr.NotFound:
			status = http.StatusNotFound
		case coreerr.PermissionDenied:
			status = http.StatusForbidden
		case coreerr.InvalidState, coreerr.InsufficientStock, coreerr.ValidationError:
			status = http.StatusBadRequest
		case coreerr.Conflict:
			status = http.StatusConflict
		default:
			status = http.StatusInternalServerError
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Error:     detail,
		Reason:    reason,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
