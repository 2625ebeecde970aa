package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/arcrelay/mcp-gateway/internal/connmgr"
)

// endpointHandler implements the SPEC_FULL.md §6 REST boundary over the
// Lifecycle Controller. Every endpoint identifier in the URL path is
// expected to be percent-encoded (it's a full ws:// URL, not a bare name),
// mirroring the teacher's {nodeID} path-param handlers but unescaping
// before use.
type endpointHandler struct {
	manager *connmgr.Manager
	logger  *zap.Logger
}

type addEndpointRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

func (h *endpointHandler) list(w http.ResponseWriter, r *http.Request) {
	endpoints := h.manager.GetEndpoints()
	states := make([]connmgr.ConnectionState, 0, len(endpoints))
	for _, e := range endpoints {
		if st, ok := h.manager.State(e); ok {
			states = append(states, st)
		}
	}
	respondJSON(w, http.StatusOK, states)
}

func (h *endpointHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.manager.AddEndpoint(r.Context(), req.Endpoint); err != nil {
		h.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"endpoint": req.Endpoint})
}

func (h *endpointHandler) remove(w http.ResponseWriter, r *http.Request) {
	endpoint, err := pathEndpoint(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.manager.RemoveEndpoint(endpoint); err != nil {
		h.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"endpoint": endpoint})
}

func (h *endpointHandler) connect(w http.ResponseWriter, r *http.Request) {
	endpoint, err := pathEndpoint(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.manager.ConnectEndpoint(r.Context(), endpoint); err != nil {
		h.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"endpoint": endpoint})
}

func (h *endpointHandler) disconnect(w http.ResponseWriter, r *http.Request) {
	endpoint, err := pathEndpoint(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.manager.DisconnectEndpoint(endpoint); err != nil {
		h.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"endpoint": endpoint})
}

func (h *endpointHandler) reconnect(w http.ResponseWriter, r *http.Request) {
	endpoint, err := pathEndpoint(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.manager.TriggerReconnect(r.Context(), endpoint); err != nil {
		h.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"endpoint": endpoint})
}

// reloadConfigRequest mirrors connmgr.ReloadInput over the wire: both
// fields are optional, matching spec.md §4.3.9's "composes updateOptions
// (if present) then updateEndpoints (if present)".
type reloadConfigRequest struct {
	Options   *connmgr.Options `json:"options,omitempty"`
	Endpoints []string         `json:"endpoints,omitempty"`
}

func (h *endpointHandler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	var req reloadConfigRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	cfg := connmgr.ReloadInput{Options: req.Options, Endpoints: req.Endpoints}
	if err := h.manager.ReloadConfig(r.Context(), cfg); err != nil {
		h.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.manager.Options())
}

func pathEndpoint(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "endpoint")
	return url.PathUnescape(raw)
}

// respondManagerError maps the connmgr.ErrorKind taxonomy from SPEC_FULL.md
// §7 onto HTTP status codes.
func (h *endpointHandler) respondManagerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case connmgr.IsKind(err, connmgr.KindInvalidEndpoint):
		status = http.StatusBadRequest
	case connmgr.IsKind(err, connmgr.KindEndpointAlreadyInConfig):
		status = http.StatusConflict
	case connmgr.IsKind(err, connmgr.KindEndpointNotFound):
		status = http.StatusNotFound
	case connmgr.IsKind(err, connmgr.KindNotInitialized):
		status = http.StatusServiceUnavailable
	case connmgr.IsKind(err, connmgr.KindConnectFailed):
		status = http.StatusBadGateway
	case connmgr.IsKind(err, connmgr.KindAllEndpointsFailed):
		status = http.StatusBadGateway
	case connmgr.IsKind(err, connmgr.KindConfigStoreError):
		status = http.StatusInternalServerError
	case connmgr.IsKind(err, connmgr.KindDisconnectFailed):
		status = http.StatusBadGateway
	}
	h.logger.Warn("connmgr operation failed", zap.Error(err))
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
