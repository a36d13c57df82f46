package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mfgerp/mfgerp/internal/audit"
	"github.com/mfgerp/mfgerp/internal/platform/httpx"
	"github.com/mfgerp/mfgerp/internal/shared"
)

const (
	defaultDateRange = 30 * 24 * time.Hour
	maxDateRange     = 366 * 24 * time.Hour
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves the ledger audit trail.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

type timelineResponse struct {
	Data []audit.TimelineRow `json:"data"`
	Meta audit.PagingInfo    `json:"meta"`
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	rows := result.Rows
	if rows == nil {
		rows = []audit.TimelineRow{}
	}
	httpx.JSON(w, http.StatusOK, timelineResponse{Data: rows, Meta: result.Paging})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export audit timeline", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.handleServerError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-trail.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(w http.ResponseWriter, r *http.Request) (audit.TimelineFilters, bool) {
	tenant, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	invalid := func(field, detail string) (audit.TimelineFilters, bool) {
		httpx.ProblemWith(w, http.StatusBadRequest, "Bad Request", detail, map[string]any{"field": field})
		return audit.TimelineFilters{}, false
	}

	now := h.now().UTC()
	to := now.Add(24 * time.Hour).Truncate(24 * time.Hour)
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return invalid("to", "to must be YYYY-MM-DD")
		}
		// inclusive end date
		to = parsed.Add(24 * time.Hour)
	}
	from := to.Add(-defaultDateRange)
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return invalid("from", "from must be YYYY-MM-DD")
		}
		from = parsed
	}
	if !from.Before(to) {
		return invalid("range", "from must not be after to")
	}
	if to.Sub(from) > maxDateRange {
		return invalid("range", "date range may not exceed one year")
	}

	filters := audit.TimelineFilters{
		OrganizationID: tenant.OrganizationID,
		From:           from,
		To:             to,
		Entity:         strings.TrimSpace(q.Get("entity")),
		EntityID:       strings.TrimSpace(q.Get("entity_id")),
		Action:         strings.TrimSpace(q.Get("action")),
	}
	if raw := strings.TrimSpace(q.Get("actor_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return invalid("actor_id", "actor_id must be a positive integer")
		}
		filters.ActorID = id
	}
	page := shared.PaginationFromQuery(q)
	filters.Page = page.Page
	if q.Get("per_page") != "" {
		filters.PageSize = page.PerPage
	}
	return filters, true
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, audit.ErrOrganizationRequired) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	h.logger.Error(message, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
}
