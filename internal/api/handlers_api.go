package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lox/surfcast/internal/models"
	"github.com/lox/surfcast/internal/predict"
	"github.com/lox/surfcast/internal/store"
)

type HealthStatus struct {
	Status     string      `json:"status"`
	LastRun    *RunSummary `json:"last_run,omitempty"`
	DataEnd    *time.Time  `json:"data_end,omitempty"`
	AgeMinutes int         `json:"age_minutes"`
	Stale      bool        `json:"stale"`
	Errors     []string    `json:"errors,omitempty"`
}

type RunSummary struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DataEnd    *time.Time `json:"data_end,omitempty"`
	Result     string     `json:"result"`
	Records    int64      `json:"records"`
	Pruned     int64      `json:"pruned"`
	Error      string     `json:"error,omitempty"`
}

func (s *Server) summarize(run *store.RefreshRun) *RunSummary {
	if run == nil {
		return nil
	}
	sum := &RunSummary{
		RunID:     run.RunID,
		StartedAt: run.StartedAt.In(s.loc),
		Result:    run.Result,
		Records:   run.Records.Int64,
		Pruned:    run.Pruned.Int64,
		Error:     run.ErrorMessage.String,
	}
	if run.FinishedAt.Valid {
		t := run.FinishedAt.Time.In(s.loc)
		sum.FinishedAt = &t
	}
	if run.DataEnd.Valid {
		t := run.DataEnd.Time.In(s.loc)
		sum.DataEnd = &t
	}
	return sum
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	last, err := s.store.LatestRefreshRun()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}
	end, ok, err := s.store.LastDataEnd()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	health := HealthStatus{
		Status:  "ok",
		LastRun: s.summarize(last),
	}
	if ok {
		local := end.In(s.loc)
		age := s.clock.Since(end)
		health.DataEnd = &local
		health.AgeMinutes = int(age.Minutes())
		health.Stale = age > s.staleAfter
	} else {
		health.AgeMinutes = -1
		health.Stale = true
	}
	if health.Stale {
		health.Status = "degraded"
	}

	ingestErrors, err := s.store.GetRecentIngestErrors(5)
	if err != nil {
		health.Errors = append(health.Errors, "ingest runs: "+err.Error())
	}
	for _, run := range ingestErrors {
		health.Errors = append(health.Errors, run.Endpoint+": "+run.ErrorMessage.String)
	}
	if last != nil && last.Result == store.ResultFailed {
		health.Status = "error"
	}

	if health.Status == "error" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleAPIForecast(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.LatestForecasts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("wind") == "1" {
		records = predict.RecomposeWind(records)
	}
	if model := r.URL.Query().Get("model"); model != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Model == model {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []models.ForecastRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

type paramStationJSON struct {
	Parameter string  `json:"parameter"`
	Station   string  `json:"station"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Elevation float64 `json:"elevation"`
}

func (s *Server) handleAPIStations(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.store.ActiveParamStations()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]paramStationJSON, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, paramStationJSON{
			Parameter: p.Parameter,
			Station:   p.StationName,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Elevation: p.Elevation,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleAPILatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRefreshRun()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "no refresh runs yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.summarize(run))
}
