package reporthttp

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
	"github.com/IstiakDeveloper/gosto-khor/internal/reports"
	"github.com/IstiakDeveloper/gosto-khor/internal/reports/export"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
)

const requestTimeout = 5 * time.Second

// Handler serves report JSON and CSV exports.
type Handler struct {
	logger  *slog.Logger
	service *reports.Service
	csvPool sync.Pool
	now     func() time.Time
}

// NewHandler constructs the report handler.
func NewHandler(logger *slog.Logger, service *reports.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger, service: service, now: time.Now}
	h.csvPool.New = func() any { return new(bytes.Buffer) }
	return h
}

type reportResponse struct {
	Report string         `json:"report"`
	Filter reports.Filter `json:"filter"`
	Data   any            `json:"data"`
	Table  reports.Table  `json:"table"`
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "report")
	tenant, filter, ok := h.prepare(w, r, name)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	data, err := h.service.Build(ctx, tenant.OrganizationID, name, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reportResponse{Report: name, Filter: filter, Data: data, Table: data.Table()})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "report")
	tenant, filter, ok := h.prepare(w, r, name)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	data, err := h.service.Build(ctx, tenant.OrganizationID, name, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()
	if err := export.WriteTableCSV(buf, data.Table()); err != nil {
		h.fail(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s-%s.csv", name, h.now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("stream csv", slog.Any("error", err))
	}
}

// prepare resolves the tenant and a normalised filter, writing the error
// response itself when either fails.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request, name string) (shared.Tenant, reports.Filter, bool) {
	tenant, err := shared.RequireTenant(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Tenant{}, reports.Filter{}, false
	}
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Tenant{}, reports.Filter{}, false
	}
	filter, err = h.service.Normalize(name, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Tenant{}, reports.Filter{}, false
	}
	return tenant, filter, true
}

func parseFilter(r *http.Request) (reports.Filter, error) {
	q := r.URL.Query()
	params := shared.ParseListParams(r)
	filter := reports.Filter{
		Search:        params.Search,
		SortField:     params.SortField,
		SortDirection: params.SortDirection,
	}
	fields := httpx.FieldErrors{}
	parseInt := func(name string, dst *int64) {
		if raw := strings.TrimSpace(q.Get(name)); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v <= 0 {
				fields[name] = "must be a positive integer"
				return
			}
			*dst = v
		}
	}
	parseDate := func(name string, dst *time.Time) {
		if raw := strings.TrimSpace(q.Get(name)); raw != "" {
			t, err := time.Parse("2006-01-02", raw)
			if err != nil {
				fields[name] = "must be YYYY-MM-DD"
				return
			}
			*dst = t
		}
	}
	parseInt("somiti_id", &filter.SomitiID)
	parseInt("member_id", &filter.MemberID)
	parseDate("from", &filter.From)
	parseDate("to", &filter.To)
	parseDate("as_of", &filter.AsOf)
	if raw := strings.TrimSpace(q.Get("year")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			fields["year"] = "must be a year"
		}
		filter.Year = v
	}
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			fields["days"] = "must be a positive integer"
		}
		filter.Days = v
	}
	if len(fields) > 0 {
		return reports.Filter{}, fields
	}
	return filter, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error("report request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
