package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// AuthorizeFunc decides whether the request may read the audit trail. A nil
// error admits the request; the error message is returned with a 403.
type AuthorizeFunc func(r *http.Request) error

// Handlers provides the HTTP query surface over the audit trail. Every route
// is read-only; the trail is never writable over HTTP.
type Handlers struct {
	searcher  Searcher
	authorize AuthorizeFunc
}

// NewHandlers creates audit handlers guarded by the authorize callback
func NewHandlers(searcher Searcher, authorize AuthorizeFunc) *Handlers {
	return &Handlers{
		searcher:  searcher,
		authorize: authorize,
	}
}

// RegisterRoutes registers the audit query routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/entries", h.listEntries).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEntries).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
	router.HandleFunc("/audit/verify", h.verifyChain).Methods("GET")
}

func (h *Handlers) admitted(w http.ResponseWriter, r *http.Request) bool {
	if h.authorize == nil {
		return true
	}
	if err := h.authorize(r); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// listEntries handles GET /audit/entries
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	if !h.admitted(w, r) {
		return
	}

	filter := parseFilter(r)
	entries, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		http.Error(w, "failed to search audit trail", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// exportEntries handles GET /audit/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	if !h.admitted(w, r) {
		return
	}

	filter := parseFilter(r)
	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	entries, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		http.Error(w, "failed to search audit trail", http.StatusInternalServerError)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-entries.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-entries.ndjson")
	case ExportFormatJSON:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-entries.json")
	default:
		http.Error(w, "unsupported export format", http.StatusBadRequest)
		return
	}

	if err := Export(w, entries, format); err != nil {
		http.Error(w, "failed to export audit trail", http.StatusInternalServerError)
	}
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	if !h.admitted(w, r) {
		return
	}

	var start, end *time.Time
	if startStr := r.URL.Query().Get("start_time"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			start = &t
		}
	}
	if endStr := r.URL.Query().Get("end_time"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			end = &t
		}
	}

	stats, err := h.searcher.GetStats(r.Context(), start, end)
	if err != nil {
		http.Error(w, "failed to compute audit stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// verifyChain handles GET /audit/verify
func (h *Handlers) verifyChain(w http.ResponseWriter, r *http.Request) {
	if !h.admitted(w, r) {
		return
	}

	report, err := h.searcher.VerifyChain(r.Context())
	if err != nil {
		http.Error(w, "failed to verify audit chain", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func parseFilter(r *http.Request) SearchFilter {
	query := r.URL.Query()
	filter := SearchFilter{}

	if startStr := query.Get("start_time"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = &t
		}
	}
	if endStr := query.Get("end_time"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = &t
		}
	}

	if actionsStr := query.Get("actions"); actionsStr != "" {
		for _, a := range strings.Split(actionsStr, ",") {
			if a = strings.TrimSpace(a); a != "" {
				filter.Actions = append(filter.Actions, Action(a))
			}
		}
	}
	if outcomeStr := query.Get("outcome"); outcomeStr != "" {
		outcome := Outcome(outcomeStr)
		filter.Outcome = &outcome
	}

	filter.ResourceType = query.Get("resource_type")
	filter.ResourceID = query.Get("resource_id")
	filter.ActorID = query.Get("actor_id")
	filter.ActorRole = query.Get("actor_role")
	filter.OperationID = query.Get("operation_id")

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	} else {
		filter.Limit = 100
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	return filter
}
