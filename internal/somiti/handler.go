package somiti

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

// HeaderIdempotencyKey lets clients safely retry save-collection.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler wires HTTP endpoints for somitis, memberships and payments.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the somiti handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountSomitis registers routes under /organization/somitis.
func (h *Handler) MountSomitis(r chi.Router) {
	r.Get("/", h.listSomitis)
	r.Post("/", h.createSomiti)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.getSomiti)
		r.Put("/", h.updateSomiti)
		r.Put("/active", h.setSomitiActive)
		r.Get("/next-collection", h.nextCollection)
		r.Post("/add-members", h.addMembers)
		r.Post("/members/{memberID}/remove", h.removeMember)
		r.Put("/members/{memberID}/active", h.setMembershipActive)
		r.Post("/accrue", h.accrue)
		r.Post("/save-collection", h.saveCollection)
	})
}

// MountPayments registers routes under /organization/payments.
func (h *Handler) MountPayments(r chi.Router) {
	r.Get("/", h.listPayments)
	r.Post("/", h.recordPayment)
	r.Get("/{id}", h.getPayment)
	r.Put("/{id}", h.editPayment)
	r.Delete("/{id}", h.deletePayment)
	r.Put("/{id}/mark-as-paid", h.markAsPaid)
}

func (h *Handler) listSomitis(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	items, page, err := h.service.ListSomitis(r.Context(), tenant.OrganizationID, shared.ParseListParams(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []Somiti{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

func (h *Handler) createSomiti(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var input SomitiInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateSomiti(r.Context(), tenant, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) getSomiti(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.GetSomiti(r.Context(), tenant.OrganizationID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) updateSomiti(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input SomitiInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.UpdateSomiti(r.Context(), tenant, id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

type activeRequest struct {
	IsActive bool `json:"is_active"`
}

func (h *Handler) setSomitiActive(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input activeRequest
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetSomitiActive(r.Context(), tenant, id, input.IsActive); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) nextCollection(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var ref Date
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := ParseDate(raw)
		if err != nil {
			httpx.RespondError(w, httpx.FieldErrors{"date": "must be YYYY-MM-DD"})
			return
		}
		ref = parsed
	}
	next, label, err := h.service.NextCollection(r.Context(), tenant.OrganizationID, id, ref.Time)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"next_collection_date": NewDate(next),
		"day_label":            label,
	})
}

type addMembersRequest struct {
	MemberIDs []int64 `json:"member_ids" validate:"required,min=1,dive,gt=0"`
	JoinDate  Date    `json:"join_date"`
}

func (h *Handler) addMembers(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input addMembersRequest
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	added, err := h.service.AddMembers(r.Context(), tenant, id, input.MemberIDs, input.JoinDate.Time)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": added})
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := pathInt(w, r, "memberID")
	if !ok {
		return
	}
	if err := h.service.RemoveMember(r.Context(), tenant, id, memberID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setMembershipActive(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := pathInt(w, r, "memberID")
	if !ok {
		return
	}
	var input activeRequest
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.SetMembershipActive(r.Context(), tenant, id, memberID, input.IsActive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

type accrueRequest struct {
	Occasion Date `json:"occasion"`
}

func (h *Handler) accrue(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input accrueRequest
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if input.Occasion.IsZero() {
		httpx.RespondError(w, httpx.FieldErrors{"occasion": "is required"})
		return
	}
	result, err := h.service.AccrueOccasion(r.Context(), tenant, id, input.Occasion.Time)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) saveCollection(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input SaveCollectionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	result, err := h.service.SaveCollection(r.Context(), tenant, id, input, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	filter, err := parsePaymentFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, page, err := h.service.ListPayments(r.Context(), tenant.OrganizationID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var input RecordPaymentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.RecordPayment(r.Context(), tenant, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	p, err := h.service.GetPayment(r.Context(), tenant.OrganizationID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) editPayment(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var input EditPaymentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.EditPayment(r.Context(), tenant, id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeletePayment(r.Context(), tenant, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAsPaid(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	p, err := h.service.MarkAsPaid(r.Context(), tenant, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func parsePaymentFilter(r *http.Request) (PaymentFilter, error) {
	q := r.URL.Query()
	params := shared.ParseListParams(r)
	filter := PaymentFilter{
		Search:        params.Search,
		SortField:     params.SortField,
		SortDirection: params.SortDirection,
		Page:          params.Page,
		PerPage:       params.PerPage,
	}
	fields := httpx.FieldErrors{}
	if raw := q.Get("somiti_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fields["somiti_id"] = "must be an integer"
		}
		filter.SomitiID = v
	}
	if raw := q.Get("member_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fields["member_id"] = "must be an integer"
		}
		filter.MemberID = v
	}
	if raw := q.Get("status"); raw != "" {
		st, err := ParsePaymentStatus(raw)
		if err != nil {
			fields["status"] = "must be one of: pending paid failed"
		}
		filter.Status = st
	}
	for _, name := range []string{"from", "to"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		d, err := ParseDate(raw)
		if err != nil {
			fields[name] = "must be YYYY-MM-DD"
			continue
		}
		if name == "from" {
			filter.From = d.Time
		} else {
			filter.To = d.Time
		}
	}
	if len(fields) > 0 {
		return PaymentFilter{}, fields
	}
	return filter, nil
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (shared.Tenant, bool) {
	tenant, err := shared.RequireTenant(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Tenant{}, false
	}
	return tenant, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error("somiti request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.FieldErrors{name: "must be a positive integer"})
		return 0, false
	}
	return id, true
}
