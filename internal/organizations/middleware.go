package organizations

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

const (
	// HeaderOrganizationID selects the tenant.
	HeaderOrganizationID = "X-Organization-ID"
	// HeaderAPIKey carries the organization API key.
	HeaderAPIKey = "X-API-Key"
	// HeaderAdminToken carries the back-office token.
	HeaderAdminToken = "X-Admin-Token"
)

// Authenticator resolves a tenant from request credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, orgID int64, apiKey string) (shared.Tenant, error)
}

// TenantMiddleware rejects requests without valid tenant credentials and
// stores the resolved tenant in the request context.
func TenantMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderOrganizationID)), 10, 64)
			if err != nil {
				httpx.RespondError(w, shared.ErrTenantMissing)
				return
			}
			tenant, err := auth.Authenticate(r.Context(), orgID, strings.TrimSpace(r.Header.Get(HeaderAPIKey)))
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithTenant(r.Context(), tenant)))
		})
	}
}

// AdminMiddleware guards back-office routes with a static token. An empty
// token disables the admin surface entirely.
func AdminMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(HeaderAdminToken)
			if token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				httpx.RespondError(w, shared.ErrInvalidCredentials)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
