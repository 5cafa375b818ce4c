package monitor

import (
	"encoding/json"
	"errors"
	"net/http"

	"livescrape/internal/components/telemetry"
	"livescrape/internal/record"
)

const report_trigger_serve = "trigger.serve"

type triggerResponse struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Record  *record.Record `json:"record,omitempty"`
	Status  *Status        `json:"status,omitempty"`
}

type navigateRequest struct {
	Url string `json:"url"`
}

type trigger struct {
	monitor *Monitor
	tel     telemetry.API
}

// NewTriggerHandler exposes the monitor's on-demand operations:
//
//	POST /extract-now  extract the current page and return the record
//	GET  /status       describe the watched session
//	POST /navigate     {"url": "..."} point the browser session at url
func NewTriggerHandler(m *Monitor, tel telemetry.API) http.Handler {
	t := trigger{
		monitor: m,
		tel:     telemetry.NewScopedAPI("monitor", tel),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract-now", t.extractNow)
	mux.HandleFunc("GET /status", t.status)
	mux.HandleFunc("POST /navigate", t.navigate)
	return mux
}

func (t trigger) write(w http.ResponseWriter, status int, res triggerResponse) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(res)
	if err != nil {
		t.tel.ReportWarning(report_trigger_serve, err)
	}
}

func (t trigger) extractNow(w http.ResponseWriter, r *http.Request) {
	rec, err := t.monitor.ExtractNow(r.Context())
	switch {
	case err == nil:
		t.write(w, http.StatusOK, triggerResponse{Success: true, Record: &rec})
	case errors.Is(err, ErrExtractionMiss):
		t.write(w, http.StatusUnprocessableEntity, triggerResponse{Error: err.Error(), Record: &rec})
	case errors.Is(err, ErrNoSession):
		t.write(w, http.StatusNotFound, triggerResponse{Error: err.Error()})
	default:
		t.write(w, http.StatusBadGateway, triggerResponse{Error: err.Error()})
	}
}

func (t trigger) status(w http.ResponseWriter, _ *http.Request) {
	status, ok := t.monitor.Status()
	if !ok {
		t.write(w, http.StatusNotFound, triggerResponse{Error: ErrNoSession.Error()})
		return
	}
	t.write(w, http.StatusOK, triggerResponse{Success: true, Status: &status})
}

func (t trigger) navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil || req.Url == "" {
		t.write(w, http.StatusBadRequest, triggerResponse{Error: "url is required"})
		return
	}
	err = t.monitor.Navigate(r.Context(), req.Url)
	if err != nil {
		t.write(w, http.StatusBadGateway, triggerResponse{Error: err.Error()})
		return
	}
	t.write(w, http.StatusOK, triggerResponse{Success: true})
}
