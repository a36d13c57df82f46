package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/mfgerp/mfgerp/internal/platform/httpx"
	"github.com/mfgerp/mfgerp/internal/shared"
)

const (
	exportLimit  = 10
	exportWindow = time.Minute
)

// MountRoutes registers the audit trail and its CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportLimit, exportWindow,
		httprate.WithKeyFuncs(exportKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "audit export rate limit exceeded")
		}),
	)
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireTenant)
		r.Get("/audit-logs", h.handleTimeline)
		r.With(limiter).Get("/audit-logs/export.csv", h.handleExport)
	})
}

// exportKey limits exports per organization.
func exportKey(r *http.Request) (string, error) {
	if tenant, ok := shared.TenantFromContext(r.Context()); ok {
		return "org:" + strconv.FormatInt(tenant.OrganizationID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
