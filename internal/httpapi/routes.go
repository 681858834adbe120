package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/parkspot/tracker/internal/dispatcher"
	"github.com/parkspot/tracker/internal/handlers"
	"github.com/parkspot/tracker/internal/lifecycle"
	"github.com/parkspot/tracker/pkg/core"
)

const maxCommandBody = 1 << 20

type api struct {
	deps Dependencies
}

type healthResponse struct {
	Status  string `json:"status"`
	Online  bool   `json:"online"`
	Records int    `json:"records"`
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Records: len(a.deps.Manager.Records())}
	if a.deps.Online != nil {
		resp.Online = a.deps.Online()
	}
	writeJSON(w, resp, http.StatusOK)
}

func (a *api) listLocations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.deps.Manager.Records(), http.StatusOK)
}

func (a *api) getLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := a.idParam(w, r)
	if !ok {
		return
	}
	rec, err := a.deps.Manager.Get(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, rec, http.StatusOK)
}

func (a *api) createLocation(w http.ResponseWriter, r *http.Request) {
	var rec core.LocationRecord
	if !a.decode(w, r, &rec) {
		return
	}
	created, err := a.deps.Handlers.CreateLocation(r.Context(), rec)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/locations/"+url.PathEscape(created.ID))
	writeJSON(w, created, http.StatusCreated)
}

func (a *api) updateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := a.idParam(w, r)
	if !ok {
		return
	}
	var patch core.Patch
	if !a.decode(w, r, &patch) {
		return
	}
	updated, err := a.deps.Handlers.UpdateLocation(r.Context(), id, patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, updated, http.StatusOK)
}

func (a *api) deleteLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := a.idParam(w, r)
	if !ok {
		return
	}
	if err := a.deps.Manager.Delete(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) selectLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := a.idParam(w, r)
	if !ok {
		return
	}
	rec, err := a.deps.Manager.Select(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, rec, http.StatusOK)
}

func (a *api) extendTimer(w http.ResponseWriter, r *http.Request) {
	id, ok := a.idParam(w, r)
	if !ok {
		return
	}
	var req extendRequest
	if !a.decode(w, r, &req) {
		return
	}
	rec, err := a.deps.Manager.ExtendTimer(r.Context(), id, req.Minutes)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, rec, http.StatusOK)
}

func (a *api) cancelTimer(w http.ResponseWriter, r *http.Request) {
	id, ok := a.idParam(w, r)
	if !ok {
		return
	}
	rec, err := a.deps.Manager.CancelTimer(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, rec, http.StatusOK)
}

func (a *api) sync(w http.ResponseWriter, r *http.Request) {
	res, err := a.deps.Manager.Reconciler().TriggerManual(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func (a *api) connectivity(w http.ResponseWriter, r *http.Request) {
	var req handlers.ConnectivityArgs
	if !a.decode(w, r, &req) {
		return
	}
	changed, err := a.deps.Handlers.ReportConnectivity(req.Online)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"online": req.Online, "changed": changed}, http.StatusOK)
}

func (a *api) listCommands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.deps.Commands.Commands(), http.StatusOK)
}

// runCommand passes the request body to the dispatcher as the command
// payload. The response wraps whatever the handler returned.
func (a *api) runCommand(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err != nil {
		writeErrorMessage(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = nil
	}
	result, err := a.deps.Commands.Dispatch(r.Context(), dispatcher.Event{
		Command: chi.URLParam(r, "command"),
		Payload: payload,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result == dispatcher.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, map[string]any{"result": result}, status)
}

func (a *api) notices(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Toaster == nil {
		writeJSON(w, []core.Notice{}, http.StatusOK)
		return
	}
	writeJSON(w, a.deps.Toaster.Active(), http.StatusOK)
}

func (a *api) dismissNotice(w http.ResponseWriter, r *http.Request) {
	if a.deps.Toaster == nil || !a.deps.Toaster.Dismiss(chi.URLParam(r, "key")) {
		writeErrorMessage(w, "notice not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) idParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err == nil {
		id = strings.TrimSpace(id)
	}
	if err != nil || id == "" {
		writeErrorMessage(w, "invalid location id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.deps.Logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeErrorMessage(w, lifecycle.UserMessage(err), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidRecord), errors.Is(err, handlers.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, dispatcher.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, dispatcher.ErrQueueFull), errors.Is(err, dispatcher.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeErrorMessage(w http.ResponseWriter, message string, status int) {
	writeJSON(w, map[string]string{"error": message}, status)
}
