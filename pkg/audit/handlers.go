package audit

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/wrenfield/idbridge/pkg/httputil"
)

// Handlers is the HTTP read side of the audit trail.
type Handlers struct {
	store Store
}

// NewHandlers creates audit handlers backed by store.
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts the audit routes on router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit-events", h.listEvents).Methods("GET")
	router.HandleFunc("/audit-events/export", h.exportEvents).Methods("GET")
	router.HandleFunc("/audit-events/stats", h.getStats).Methods("GET")
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	contentType, filename := "application/json", "audit-events.json"
	switch format {
	case ExportFormatCSV:
		contentType, filename = "text/csv", "audit-events.csv"
	case ExportFormatNDJSON:
		contentType, filename = "application/x-ndjson", "audit-events.ndjson"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Write(data)
}

func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	stats, err := h.store.GetStats(r.Context(), timeParam(query, "start_time"), timeParam(query, "end_time"))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// timeParam parses an RFC3339 query parameter; absent or unparsable
// values come back nil.
func timeParam(query url.Values, key string) *time.Time {
	raw := query.Get(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// parseFilter builds a SearchFilter from query parameters.
func parseFilter(r *http.Request) SearchFilter {
	query := r.URL.Query()

	filter := SearchFilter{
		StartTime:  timeParam(query, "start_time"),
		EndTime:    timeParam(query, "end_time"),
		Provider:   httputil.ParseQueryString(r, "provider", ""),
		Email:      httputil.ParseQueryString(r, "email", ""),
		Downstream: httputil.ParseQueryString(r, "downstream", ""),
		RequestID:  httputil.ParseQueryString(r, "request_id", ""),
	}

	if raw := query.Get("event_types"); raw != "" {
		for _, et := range strings.Split(raw, ",") {
			if et = strings.TrimSpace(et); et != "" {
				filter.EventTypes = append(filter.EventTypes, EventType(et))
			}
		}
	}
	if raw := query.Get("status"); raw != "" {
		status := EventStatus(raw)
		filter.Status = &status
	}

	// Unparsable limit/offset are dropped rather than rejected.
	if limit, err := httputil.ParseQueryInt(r, "limit", 100); err == nil {
		filter.Limit = limit
	}
	if offset, err := httputil.ParseQueryInt(r, "offset", 0); err == nil {
		filter.Offset = offset
	}

	return filter
}
