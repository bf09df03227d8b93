package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CJhunterxv/smartwater/shared/auth"
	"github.com/CJhunterxv/smartwater/shared/control"
	"github.com/CJhunterxv/smartwater/shared/device"
	"github.com/CJhunterxv/smartwater/shared/hub"
	"github.com/CJhunterxv/smartwater/shared/storage"
	"github.com/CJhunterxv/smartwater/shared/telemetry"
)

// ──────────────────────────────────────────────────────────────────────────────
// HTTP handlers
// ──────────────────────────────────────────────────────────────────────────────

type actuatorSetter interface {
	SetActuator(ctx context.Context, which device.Actuator, on bool) (control.Ack, error)
}

type monitorAPI struct {
	sync    *telemetry.SyncContext
	control actuatorSetter
	hub     *hub.Hub // nil disables /ws
	health  *syncHealth
	now     func() time.Time

	corsOrigin string
}

type statusData struct {
	PumpState      bool    `json:"pumpState"`
	BuzzerState    bool    `json:"buzzerState"`
	WaterDetected  bool    `json:"waterDetected"`
	DistanceCM     float64 `json:"distanceCM"`
	ManualOverride bool    `json:"manualOverride"`
	LastUpdate     string  `json:"lastUpdate"`
	LastAlert      *string `json:"lastAlert"`
}

// GET /status
// Each request runs one full sync, persist, alert-evaluate cycle.
func (a *monitorAPI) status(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sync.Poll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok": false, "message": "Server error fetching status.",
		})
		return
	}

	s := snap.State
	data := statusData{
		PumpState:      s.PumpOn,
		BuzzerState:    s.BuzzerOn,
		WaterDetected:  s.WaterDetected,
		DistanceCM:     s.DistanceCM,
		ManualOverride: s.ManualOverride,
		LastUpdate:     device.FormatTime(s.ObservedAt),
	}
	if snap.LastAlert != nil {
		ts := device.FormatTime(*snap.LastAlert)
		data.LastAlert = &ts
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

// GET /historical-data?range=month|6months
func (a *monitorAPI) historicalData(w http.ResponseWriter, r *http.Request) {
	rng, err := storage.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "Invalid time range"})
		return
	}

	store := a.sync.History()
	if store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "message": "History is disabled."})
		return
	}

	series, err := storage.QueryRange(r.Context(), store, rng, a.now())
	if err != nil {
		slog.Error("history query failed", "err", err, "range", rng,
			"request_id", auth.RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok": false, "message": "Server error fetching historical logs.",
		})
		return
	}

	labels := make([]string, len(series.Timestamps))
	for i, ts := range series.Timestamps {
		labels[i] = device.FormatTime(ts)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"labels": labels,
		"datasets": map[string]any{
			"distance": series.Distances,
			"water":    series.WaterFlags,
		},
	})
}

// POST /control/{actuator}  body: {"on": bool}
func (a *monitorAPI) setActuator(w http.ResponseWriter, r *http.Request) {
	which, err := device.ParseActuator(chi.URLParam(r, "actuator"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "Unknown actuator."})
		return
	}

	// A missing body means off, as does any falsy "on".
	var body struct {
		On any `json:"on"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "Invalid request body."})
		return
	}

	ack, err := a.control.SetActuator(r.Context(), which, device.Truthy(body.On))
	switch {
	case errors.Is(err, control.ErrUnknownActuator):
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "Unknown actuator."})
		return
	case err != nil:
		var ce *control.ControlError
		if errors.As(err, &ce) {
			slog.Error("control request failed", "command_id", ce.CommandID,
				"request_id", auth.RequestIDFromContext(r.Context()))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok": false, "message": fmt.Sprintf("Server error setting %s.", which),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "commandId": ack.CommandID})
}

// GET /download-logs
func (a *monitorAPI) downloadLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=smartwater_logs.csv")
	if err := a.sync.PollLog().WriteCSV(w); err != nil {
		slog.Error("csv export failed", "err", err, "request_id", auth.RequestIDFromContext(r.Context()))
	}
}

// GET /healthz
func (a *monitorAPI) healthz(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if a.hub != nil {
		clients = a.hub.Len()
	}
	writeJSON(w, http.StatusOK, a.health.report(clients))
}

// ──────────────────────────────────────────────────────────────────────────────
// Router
// ──────────────────────────────────────────────────────────────────────────────

// routes builds the handler tree. v may be nil, leaving control open.
func (a *monitorAPI) routes(v *auth.Validator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(auth.RequestIDMiddleware)
	r.Use(corsMiddleware(a.corsOrigin))

	r.Get("/status", a.status)
	r.Get("/historical-data", a.historicalData)
	r.Get("/download-logs", a.downloadLogs)
	r.Get("/healthz", a.healthz)
	if a.hub != nil {
		r.Handle("/ws", a.hub)
	}

	r.Group(func(r chi.Router) {
		if v != nil {
			r.Use(auth.HTTPMiddleware(v))
			r.Use(auth.RequireCommandRole)
		}
		r.Post("/control/{actuator}", a.setActuator)
	})
	return r
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func corsMiddleware(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
