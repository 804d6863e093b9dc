package http

import (
	"net/http"

	"lifesync/internal/core"
	"lifesync/internal/log"
)

type (
	healthLogList struct {
		Logs    []core.HealthLog `json:"logs"`
		Loading bool             `json:"loading"`
		Error   string           `json:"error,omitempty"`
	}

	workoutList struct {
		Workouts      []core.Workout `json:"workouts"`
		TotalCalories int            `json:"totalCalories"`
		Loading       bool           `json:"loading"`
		Error         string         `json:"error,omitempty"`
	}

	workoutCreated struct {
		ID      string       `json:"id"`
		Workout core.Workout `json:"workout"`
	}
)

func (s *Server) handleListHealthLogs(w http.ResponseWriter, r *http.Request) {
	m := s.app.Health.LogsMirror()
	resp := healthLogList{Logs: s.app.Health.Logs(), Loading: m.Loading()}
	if resp.Logs == nil {
		resp.Logs = []core.HealthLog{}
	}
	if err := m.Err(); err != nil {
		resp.Error = err.Error()
	}
	NewJSONResponse().Data(resp).Write(w)
}

func (s *Server) handleCreateHealthLog(w http.ResponseWriter, r *http.Request) {
	var req healthLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, inputError(err))
		return
	}

	id, err := s.app.Health.AddLog(r.Context(), req.healthLog(s.today()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Health log created",
		log.FieldOperation, log.OpCreate,
		log.FieldCollection, core.HealthLogsCollection,
		log.FieldDocumentID, id)
	NewJSONResponse().Status(http.StatusCreated).Data(createdResponse{ID: id}).Write(w)
}

func (s *Server) handleUpdateHealthLog(w http.ResponseWriter, r *http.Request) {
	var req healthLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, inputError(err))
		return
	}

	if err := s.app.Health.UpdateLog(r.Context(), pathID(r), req.healthLog(s.today())); err != nil {
		writeError(w, r, err)
		return
	}
	NoContent().Write(w)
}

func (s *Server) handleDeleteHealthLog(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Health.DeleteLog(r.Context(), pathID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	NoContent().Write(w)
}

func (s *Server) handleHealthSummary(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(s.app.HealthSummary()).Write(w)
}

func (s *Server) handleListWorkouts(w http.ResponseWriter, r *http.Request) {
	m := s.app.Health.WorkoutsMirror()
	resp := workoutList{
		Workouts:      s.app.Health.Workouts(),
		TotalCalories: s.app.Health.TotalCalories(),
		Loading:       m.Loading(),
	}
	if resp.Workouts == nil {
		resp.Workouts = []core.Workout{}
	}
	if err := m.Err(); err != nil {
		resp.Error = err.Error()
	}
	NewJSONResponse().Data(resp).Write(w)
}

// handleCreateWorkout records a workout; calories are computed from the
// type's rate and returned with the stored record.
func (s *Server) handleCreateWorkout(w http.ResponseWriter, r *http.Request) {
	var req workoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, inputError(err))
		return
	}

	t := core.WorkoutType(sanitizeInput(string(req.Type)))
	id, workout, err := s.app.Health.AddWorkout(r.Context(), t, req.Duration, sanitizeInput(req.Notes), req.date(s.today()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Workout created",
		log.FieldOperation, log.OpCreate,
		log.FieldWorkoutType, string(workout.Type),
		log.FieldDocumentID, id,
		"calories", workout.CaloriesBurned)
	NewJSONResponse().Status(http.StatusCreated).Data(workoutCreated{ID: id, Workout: workout}).Write(w)
}

func (s *Server) handleDeleteWorkout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Health.DeleteWorkout(r.Context(), pathID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	NoContent().Write(w)
}

func handleWorkoutTypes(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(core.WorkoutTypes).Write(w)
}
