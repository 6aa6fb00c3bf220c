package middleware

import (
	"context"
	"net/http"

	"github.com/edvin/tenantvault/internal/api/response"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
)

type contextKey string

const APIKeyIdentityKey contextKey = "api_key_identity"

// APIKeyIDKey carries the key ID for the audit logger.
const APIKeyIDKey contextKey = "api_key_id"

// APIKeyIdentity holds the authenticated key's ID, name and scopes.
type APIKeyIdentity struct {
	ID     string
	Name   string
	Scopes []string
}

// Authenticator resolves a raw API key. Unknown or revoked keys are NotFound.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*model.APIKey, error)
}

// Auth returns a middleware that validates the X-API-Key header.
func Auth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			k, err := auth.Authenticate(r.Context(), key)
			if err != nil {
				switch errs.KindOf(err) {
				case errs.KindNotFound, errs.KindValidation:
					response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				default:
					response.WriteError(w, http.StatusInternalServerError, "authentication unavailable")
				}
				return
			}

			identity := &APIKeyIdentity{ID: k.ID, Name: k.Name, Scopes: k.Scopes}
			ctx := context.WithValue(r.Context(), APIKeyIdentityKey, identity)
			ctx = context.WithValue(ctx, APIKeyIDKey, identity.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity returns the authenticated identity, or nil.
func GetIdentity(ctx context.Context) *APIKeyIdentity {
	id, _ := ctx.Value(APIKeyIdentityKey).(*APIKeyIdentity)
	return id
}

// Initiator names the caller for initiated_by columns.
func Initiator(ctx context.Context) string {
	id := GetIdentity(ctx)
	if id == nil {
		return "anonymous"
	}
	if id.Name != "" {
		return "api-key:" + id.Name
	}
	return "api-key:" + id.ID
}
