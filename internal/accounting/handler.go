package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mfgerp/mfgerp/internal/platform/httpx"
	"github.com/mfgerp/mfgerp/internal/shared"
)

// IdempotencyPort remembers processed Idempotency-Key headers.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler wires the ledger JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	idem      IdempotencyPort
	validator *validator.Validate
}

// NewHandler builds a Handler instance. idem may be nil.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idem: idem, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the ledger module. Every route requires a tenant.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireTenant)

		r.Get("/accounts", h.listAccounts)
		r.Post("/accounts", h.createAccount)
		r.Get("/accounts/tree", h.accountTree)
		r.Get("/accounts/{id}", h.getAccount)
		r.Patch("/accounts/{id}", h.updateAccount)
		r.Delete("/accounts/{id}", h.deleteAccount)
		r.Get("/accounts/{id}/reconcile", h.reconcileAccount)
		r.Get("/accounts/{id}/statement", h.accountStatement)
		r.Post("/accounts/{id}/reconcile-statement", h.reconcileStatement)

		r.Get("/fiscal-years", h.listFiscalYears)
		r.Post("/fiscal-years", h.createFiscalYear)
		r.Post("/fiscal-years/{id}/close", h.closeFiscalYear)

		r.Get("/journal-vouchers", h.listVouchers)
		r.Post("/journal-vouchers", h.createVoucher)
		r.Get("/journal-vouchers/{id}", h.getVoucher)
		r.Patch("/journal-vouchers/{id}", h.updateVoucher)
		r.Delete("/journal-vouchers/{id}", h.deleteVoucher)
		r.Put("/journal-vouchers/{id}/entries", h.replaceEntries)
		r.Post("/journal-vouchers/{id}/post", h.postVoucher)
		r.Post("/journal-vouchers/{id}/cancel", h.cancelVoucher)
		r.Post("/journal-vouchers/{id}/reverse", h.reverseVoucher)

		r.Get("/ledgers", h.listLedger)

		r.Get("/reports/trial-balance", h.trialBalance)
		r.Get("/reports/balance-sheet", h.balanceSheet)
		r.Get("/reports/profit-loss", h.profitAndLoss)
	})
}

type envelope struct {
	Data any `json:"data"`
	Meta any `json:"meta,omitempty"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	filter := AccountFilter{
		OrganizationID: tenant.OrganizationID,
		Status:         AccountStatus(q.Get("status")),
		RootOnly:       q.Get("root_only") == "true",
		CashOnly:       q.Get("cash_only") == "true",
	}
	if raw := q.Get("account_type"); raw != "" {
		t, err := ParseAccountType(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		filter.Type = t
	}
	accounts, err := h.service.ListAccounts(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: nonNil(accounts)})
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req accountRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput(tenant.OrganizationID, tenant.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, envelope{Data: account})
}

func (h *Handler) accountTree(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	tree, err := h.service.AccountTree(r.Context(), tenant.OrganizationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: nonNil(tree)})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	account, err := h.service.GetAccount(r.Context(), tenant.OrganizationID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: account})
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req accountPatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	account, err := h.service.UpdateAccount(r.Context(), req.toInput(tenant.OrganizationID, id, tenant.UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: account})
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteAccount(r.Context(), tenant.OrganizationID, id, tenant.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reconcileAccount(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Reconcile(r.Context(), tenant.OrganizationID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: result})
}

func (h *Handler) accountStatement(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, ok := queryDate(w, q.Get("from"))
	if !ok {
		return
	}
	to, ok := queryDate(w, q.Get("to"))
	if !ok {
		return
	}
	st, err := h.service.AccountStatement(r.Context(), tenant.OrganizationID, id, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: st})
}

func (h *Handler) reconcileStatement(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statementReconcileRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput(tenant.OrganizationID, id)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.ReconcileStatement(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: result})
}

func (h *Handler) listFiscalYears(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	years, err := h.service.ListFiscalYears(r.Context(), tenant.OrganizationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: nonNil(years)})
}

func (h *Handler) createFiscalYear(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req fiscalYearRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput(tenant.OrganizationID, tenant.UserID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	fy, err := h.service.CreateFiscalYear(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, envelope{Data: fy})
}

func (h *Handler) closeFiscalYear(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	fy, err := h.service.CloseFiscalYear(r.Context(), tenant.OrganizationID, id, tenant.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: fy})
}

func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	page := shared.PaginationFromQuery(q)
	filter := VoucherFilter{
		OrganizationID: tenant.OrganizationID,
		Status:         VoucherStatus(q.Get("status")),
		Type:           q.Get("voucher_type"),
		Limit:          page.Limit(),
		Offset:         page.Offset(),
	}
	var ok bool
	if filter.From, ok = queryDate(w, q.Get("from")); !ok {
		return
	}
	if filter.To, ok = queryDate(w, q.Get("to")); !ok {
		return
	}
	vouchers, err := h.service.ListVouchers(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: nonNil(vouchers), Meta: page})
}

func (h *Handler) createVoucher(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	var req voucherRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput(tenant.OrganizationID, tenant.UserID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	v, err := h.service.CreateVoucher(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, envelope{Data: v})
}

func (h *Handler) getVoucher(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.service.GetVoucher(r.Context(), tenant.OrganizationID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: v})
}

func (h *Handler) updateVoucher(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req voucherPatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput(tenant.OrganizationID, id)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	v, err := h.service.UpdateVoucher(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: v})
}

func (h *Handler) deleteVoucher(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteVoucher(r.Context(), tenant.OrganizationID, id, tenant.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replaceEntries(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req replaceEntriesRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.service.ReplaceEntries(r.Context(), tenant.OrganizationID, id, toEntryInputs(req.Entries))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: v})
}

func (h *Handler) postVoucher(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.idempotent(w, r, idempotencyModule("post", tenant.OrganizationID, id), func() (any, error) {
		return h.service.PostVoucher(r.Context(), tenant.OrganizationID, id, tenant.UserID)
	})
}

func (h *Handler) cancelVoucher(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	h.idempotent(w, r, idempotencyModule("cancel", tenant.OrganizationID, id), func() (any, error) {
		return h.service.CancelVoucher(r.Context(), tenant.OrganizationID, id, tenant.UserID, req.Reason)
	})
}

func (h *Handler) reverseVoucher(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput(tenant.OrganizationID, id, tenant.UserID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	h.idempotent(w, r, idempotencyModule("reverse", tenant.OrganizationID, id), func() (any, error) {
		return h.service.ReverseVoucher(r.Context(), in)
	})
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	page := shared.PaginationFromQuery(q)
	filter := LedgerFilter{
		OrganizationID: tenant.OrganizationID,
		Limit:          page.Limit(),
		Offset:         page.Offset(),
	}
	var ok bool
	if filter.AccountID, ok = queryID(w, q.Get("account_id")); !ok {
		return
	}
	if filter.VoucherID, ok = queryID(w, q.Get("journal_voucher_id")); !ok {
		return
	}
	if filter.From, ok = queryDate(w, q.Get("from")); !ok {
		return
	}
	if filter.To, ok = queryDate(w, q.Get("to")); !ok {
		return
	}
	rows, err := h.service.ListLedger(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: nonNil(rows), Meta: page})
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	params := ReportParams{OrganizationID: tenant.OrganizationID}
	var ok bool
	if params.AsOf, ok = queryDate(w, q.Get("as_of_date")); !ok {
		return
	}
	fy, ok := queryID(w, q.Get("fiscal_year_id"))
	if !ok {
		return
	}
	if fy > 0 {
		params.FiscalYearID = &fy
	}
	tb, err := h.service.TrialBalance(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: tb})
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	bs, err := h.service.BalanceSheet(r.Context(), tenant.OrganizationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: bs})
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	tenant, _ := shared.TenantFromContext(r.Context())
	pl, err := h.service.ProfitAndLoss(r.Context(), tenant.OrganizationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: pl})
}

// idempotencyModule scopes a key to one voucher action inside one tenant.
// Two int64 ids keep it under the VARCHAR(100) of idempotency_keys.module.
func idempotencyModule(op string, orgID, voucherID int64) string {
	return fmt.Sprintf("ledger.voucher.%s:%d:%d", op, orgID, voucherID)
}

// idempotent runs fn once per Idempotency-Key. Failed attempts release the key so the caller may retry.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request, module string, fn func() (any, error)) {
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idem != nil {
		if _, err := uuid.Parse(key); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "Idempotency-Key must be a UUID")
			return
		}
		if err := h.idem.CheckAndInsert(r.Context(), key, module); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
				return
			}
			h.writeError(w, r, err)
			return
		}
	}
	result, err := fn()
	if err != nil {
		if key != "" && h.idem != nil {
			if delErr := h.idem.Delete(context.WithoutCancel(r.Context()), key, module); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("module", module), slog.Any("error", delErr))
			}
		}
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, envelope{Data: result})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body: "+err.Error())
		return false
	}
	if err := h.validator.Struct(dest); err != nil {
		fields := map[string]any{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Validation Failed", "request validation failed", map[string]any{
			"rule":   RuleRequiredField,
			"fields": fields,
		})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		ext := map[string]any{"rule": verr.Rule}
		if verr.EntryIndex >= 0 {
			ext["entry_index"] = verr.EntryIndex
		}
		if verr.AccountID > 0 {
			ext["account_id"] = verr.AccountID
		}
		if verr.Side != "" {
			ext["side"] = verr.Side
		}
		if !verr.Difference.IsZero() {
			ext["difference"] = verr.Difference.StringFixed(amountPlaces)
		}
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Validation Failed", verr.Message, ext)
	case errors.Is(err, ErrAccountCycle):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), map[string]any{"rule": "parent_cycle"})
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrVoucherNotFound), errors.Is(err, ErrFiscalYearNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyReversed), errors.Is(err, ErrFiscalYearLocked):
		httpx.Problem(w, http.StatusConflict, "Invalid State Transition", err.Error())
	case errors.Is(err, ErrDuplicateAccountCode), errors.Is(err, ErrDuplicateVoucherNumber):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrAccountHasChildren), errors.Is(err, ErrAccountInUse), errors.Is(err, ErrVoucherBusy):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("ledger request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Bool("retryable", IsRetryable(err)),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func queryID(w http.ResponseWriter, raw string) (int64, bool) {
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id "+strconv.Quote(raw))
		return 0, false
	}
	return id, true
}

func queryDate(w http.ResponseWriter, raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "dates must use YYYY-MM-DD")
		return nil, false
	}
	return &t, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
