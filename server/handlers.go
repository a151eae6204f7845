package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/waveline-labs/chatflow/flow"
	"github.com/waveline-labs/chatflow/sim"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNodeTypes returns the closed set of node types the builder can place.
func (s *Server) handleNodeTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, flow.AllNodeTypes)
}

// --- Flows ---

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if flows == nil {
		flows = []flow.Flow{}
	}
	writeJSON(w, http.StatusOK, flows)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("flow %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return
	}

	var f flow.Flow
	if err := json.Unmarshal(body, &f); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	f.Normalize()
	f.SyncTriggers()
	if f.Name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_FLOW", "flow name is required")
		return
	}
	if !f.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "INVALID_FLOW", fmt.Sprintf("unknown status %q", f.Status))
		return
	}

	diags := f.Validate()
	if flow.HasErrors(diags) {
		writeValidationFailure(w, diags)
		return
	}

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	if err := s.store.Create(r.Context(), f); err != nil {
		if errors.Is(err, ErrFlowExists) {
			writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("flow %q already exists", f.ID))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, f)
}

// handleUpdateFlow applies a partial update: the request body is decoded
// over the stored flow, so omitted fields keep their values.
func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("flow %q not found", id))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return
	}

	if err := json.Unmarshal(body, &f); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	f.ID = id
	f.Normalize()
	f.SyncTriggers()
	if !f.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "INVALID_FLOW", fmt.Sprintf("unknown status %q", f.Status))
		return
	}

	diags := f.Validate()
	if flow.HasErrors(diags) {
		writeValidationFailure(w, diags)
		return
	}

	if err := s.store.Update(r.Context(), f); err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("flow %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	updated, _, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("flow %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if s.schedules != nil {
		if err := s.schedules.DeleteSchedulesByFlow(r.Context(), id); err != nil {
			s.logger.Error("cascade schedule delete", "flow_id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateFlow reports diagnostics without persisting anything.
func (s *Server) handleValidateFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("flow %q not found", id))
		return
	}

	diags := f.Validate()
	if diags == nil {
		diags = []flow.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       !flow.HasErrors(diags),
		"diagnostics": diags,
	})
}

// --- Simulations ---

func (s *Server) handleStartSimulation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("flow %q not found", id))
		return
	}

	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	view, err := s.sessions.Start(f, req)
	if err != nil {
		var verr *sim.ValidationError
		if errors.As(err, &verr) {
			writeValidationFailure(w, verr.Diagnostics)
			return
		}
		writeError(w, http.StatusInternalServerError, "SIM_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// simulationInputRequest is the body of POST /api/simulations/{id}/input.
type simulationInputRequest struct {
	Value string        `json:"value"`
	Kind  sim.InputKind `json:"kind,omitempty"`
}

func (s *Server) handleSimulationInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req simulationInputRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = sim.InputText
	}

	view, err := s.sessions.Input(id, req.Value, req.Kind)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteSimulation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Schedules ---

// scheduleRequest is the mutable part of a broadcast schedule.
type scheduleRequest struct {
	FlowID      string `json:"flowId"`
	Cron        string `json:"cron"`
	Enabled     *bool  `json:"enabled,omitempty"`
	AudienceTag string `json:"audienceTag,omitempty"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NO_SCHEDULES", "schedule store is not configured")
		return
	}
	schedules, err := s.schedules.ListSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if schedules == nil {
		schedules = []BroadcastSchedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NO_SCHEDULES", "schedule store is not configured")
		return
	}
	id := r.PathValue("id")
	sched, ok, err := s.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NO_SCHEDULES", "schedule store is not configured")
		return
	}

	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	if _, ok, err := s.store.Get(r.Context(), req.FlowID); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("flow %q not found", req.FlowID))
		return
	}

	now := time.Now().UTC()
	nextRunAt, err := nextCronRunUTC(req.Cron, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CRON", err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sched := BroadcastSchedule{
		ID:          uuid.NewString(),
		FlowID:      req.FlowID,
		Cron:        req.Cron,
		Enabled:     enabled,
		AudienceTag: req.AudienceTag,
		NextRunAt:   nextRunAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.schedules.CreateSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NO_SCHEDULES", "schedule store is not configured")
		return
	}
	id := r.PathValue("id")
	sched, ok, err := s.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
		return
	}

	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	now := time.Now().UTC()
	if req.Cron != "" && req.Cron != sched.Cron {
		nextRunAt, err := nextCronRunUTC(req.Cron, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_CRON", err.Error())
			return
		}
		sched.Cron = req.Cron
		sched.NextRunAt = nextRunAt
	}
	if req.Enabled != nil {
		sched.Enabled = *req.Enabled
	}
	if req.AudienceTag != "" {
		sched.AudienceTag = req.AudienceTag
	}
	sched.UpdatedAt = now

	if err := s.schedules.UpdateSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotImplemented, "NO_SCHEDULES", "schedule store is not configured")
		return
	}
	id := r.PathValue("id")
	if err := s.schedules.DeleteSchedule(r.Context(), id); err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

// validationFailure is the 422 payload carrying the full diagnostics.
type validationFailure struct {
	Error       apiErrorBody      `json:"error"`
	Diagnostics []flow.Diagnostic `json:"diagnostics"`
}

func writeValidationFailure(w http.ResponseWriter, diags []flow.Diagnostic) {
	writeJSON(w, http.StatusUnprocessableEntity, validationFailure{
		Error: apiErrorBody{
			Code:    "VALIDATION_ERROR",
			Message: fmt.Sprintf("flow has %d validation errors", len(flow.Errors(diags))),
		},
		Diagnostics: diags,
	})
}

// decodeBody decodes an optional JSON body; an empty body decodes to the
// zero value.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
