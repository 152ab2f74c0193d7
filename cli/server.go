package cli

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imovel-scraper/models"
	"imovel-scraper/storage"
	"imovel-scraper/utils"
)

// changesHandler serves the operator view of the change log.
type changesHandler struct {
	events storage.EventStore
	logger *utils.Logger
	now    func() time.Time
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// newRouter builds the monitor HTTP surface.
func newRouter(events storage.EventStore, logger *utils.Logger) *mux.Router {
	h := &changesHandler{events: events, logger: logger, now: time.Now}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/changes/pending", h.pending).Methods(http.MethodGet)
	r.HandleFunc("/changes/{id:[0-9]+}/resolve", h.resolve).Methods(http.MethodPost)
	return r
}

func (h *changesHandler) pending(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.PendingEvents(r.Context())
	if err != nil {
		h.logger.Error("[http] pending changes: %v", err)
		http.Error(w, "could not list pending changes", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.ChangeEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *changesHandler) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid change id", http.StatusBadRequest)
		return
	}

	req := resolveRequest{ResolvedBy: "operator"}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	err = h.events.ResolveEvent(r.Context(), id, req.ResolvedBy, h.now().UTC())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "no unresolved change with that id", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("[http] resolve change %d: %v", id, err)
		http.Error(w, "could not resolve change", http.StatusInternalServerError)
		return
	}
	h.logger.Info("[http] change %d resolved by %s", id, req.ResolvedBy)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved_by": req.ResolvedBy})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
