package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/mfgerp/mfgerp/internal/platform/httpx"
)

const (
	// HeaderOrganizationID selects the tenant of a request.
	HeaderOrganizationID = "X-Organization-ID"
	// HeaderUserID names the acting user. Optional.
	HeaderUserID = "X-User-ID"
)

type tenantContextKey struct{}

// Tenant identifies the organization and acting user of a request.
type Tenant struct {
	OrganizationID int64
	UserID         int64
}

// ContextWithTenant stores the tenant in context.
func ContextWithTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// TenantFromContext extracts the tenant from context.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	tenant, ok := ctx.Value(tenantContextKey{}).(Tenant)
	if !ok || tenant.OrganizationID <= 0 {
		return Tenant{}, false
	}
	return tenant, true
}

// RequireTenant resolves the tenant from request headers and rejects requests without one.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderOrganizationID)), 10, 64)
		if err != nil || orgID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", ErrTenantRequired.Error())
			return
		}
		tenant := Tenant{OrganizationID: orgID}
		if raw := strings.TrimSpace(r.Header.Get(HeaderUserID)); raw != "" {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || userID <= 0 {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+HeaderUserID+" header")
				return
			}
			tenant.UserID = userID
		}
		next.ServeHTTP(w, r.WithContext(ContextWithTenant(r.Context(), tenant)))
	})
}
