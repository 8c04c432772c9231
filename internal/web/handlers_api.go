package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"farm-go-remote/internal/device"
	"farm-go-remote/internal/model"
	"farm-go-remote/internal/schedule"
)

type stateResponse struct {
	Session  string               `json:"session"`
	Sensors  model.SensorSnapshot `json:"sensors"`
	Controls model.ControlState   `json:"controls"`
	Schedule model.Schedule       `json:"schedule"`
}

func (s *Server) handleAPIState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, stateResponse{
		Session:  s.sess.State().String(),
		Sensors:  s.sess.Sensors(),
		Controls: s.sess.Controls(),
		Schedule: s.sess.Schedule(),
	})
}

// Command endpoints always answer accepted: write outcomes surface through
// the event log, not HTTP status codes. Only API misuse is an HTTP error.

func (s *Server) handleAPIToggle(w http.ResponseWriter, r *http.Request) {
	d, err := device.ParseDevice(r.PathValue("device"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.devices.Toggle(r.Context(), d); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleAPIPulse(w http.ResponseWriter, r *http.Request) {
	d, err := device.ParseDevice(r.PathValue("device"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.devices.Pulse(r.Context(), d); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleAPILog(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.log.Entries())
}

func (s *Server) handleAPIClearLog(w http.ResponseWriter, r *http.Request) {
	s.log.Clear()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setScheduleFieldRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleAPISetScheduleField(w http.ResponseWriter, r *http.Request) {
	field, err := schedule.ParseField(r.PathValue("field"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var req setScheduleFieldRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	t, err := model.ParseTimeOfDay(req.Value)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.sched.Set(field, t); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "field": field.String(), "value": t.String()})
}

func (s *Server) handleAPISaveSchedule(w http.ResponseWriter, r *http.Request) {
	s.sched.Save(r.Context())
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "history not enabled"})
		return
	}
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 24*30 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hours must be 1-720"})
			return
		}
		hours = n
	}
	now := time.Now()
	readings, err := s.history.Range(now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		s.logger.Error("history range", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
