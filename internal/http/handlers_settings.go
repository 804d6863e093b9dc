package http

import (
	"errors"
	"net/http"

	"lifesync/internal/core"
	"lifesync/internal/log"
)

var errNegativeGoal = errors.New("health goals cannot be negative")

type settingsResponse struct {
	core.Settings
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) currentSettings() settingsResponse {
	resp := settingsResponse{
		Settings: s.app.Settings.Current(),
		Loading:  s.app.Settings.Loading(),
	}
	if err := s.app.Settings.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(s.currentSettings()).Write(w)
}

// decodeAmount reads {"amount": n} and rejects negative values.
func decodeAmount(r *http.Request) (core.Money, error) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		return core.Money{}, inputError(err)
	}
	if req.Amount.Cents < 0 {
		return core.Money{}, validationError(core.ErrInvalidAmount)
	}
	return req.Amount, nil
}

// handleSetBudget applies the budget locally before the write is
// acknowledged; the response already carries the new value.
func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.app.Settings.SetBudget(r.Context(), amount); err != nil {
		writeError(w, r, err)
		return
	}
	s.logSettingsChange(r, core.FieldBudget)
	NewJSONResponse().Data(s.currentSettings()).Write(w)
}

func (s *Server) handleSetSalary(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.app.Settings.SetSalary(r.Context(), amount); err != nil {
		writeError(w, r, err)
		return
	}
	s.logSettingsChange(r, core.FieldSalary)
	NewJSONResponse().Data(s.currentSettings()).Write(w)
}

func (s *Server) handleSetGoals(w http.ResponseWriter, r *http.Request) {
	goals := s.app.Settings.Current().HealthGoals
	if err := decodeJSON(r, &goals); err != nil {
		writeError(w, r, inputError(err))
		return
	}
	if goals.Water < 0 || goals.Sleep < 0 || goals.Steps < 0 || goals.Weight < 0 {
		writeError(w, r, validationError(errNegativeGoal))
		return
	}
	if err := s.app.Settings.SetHealthGoals(r.Context(), goals); err != nil {
		writeError(w, r, err)
		return
	}
	s.logSettingsChange(r, core.FieldHealthGoals)
	NewJSONResponse().Data(s.currentSettings()).Write(w)
}

func (s *Server) logSettingsChange(r *http.Request, field string) {
	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogSettingsChanged(r.Context(), core.UsersCollection, field)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if s.app.Preferences == nil {
		ErrorResponse(http.StatusServiceUnavailable, CodeUnavailable, "local preferences unavailable").Write(w)
		return
	}
	prefs, err := s.app.Preferences.All(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(prefs).Write(w)
}

// handleSetPreference stores the JSON body as the value of {key}.
func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	if s.app.Preferences == nil {
		ErrorResponse(http.StatusServiceUnavailable, CodeUnavailable, "local preferences unavailable").Write(w)
		return
	}
	var value any
	if err := decodeJSON(r, &value); err != nil {
		writeError(w, r, err)
		return
	}

	key := sanitizeInput(r.PathValue("key"))
	if err := s.app.Preferences.Set(r.Context(), key, value); err != nil {
		writeError(w, r, err)
		return
	}
	NoContent().Write(w)
}

// handleClearPreferences wipes device-local preferences and rebuilds every
// mirror. Remote data is untouched.
func (s *Server) handleClearPreferences(w http.ResponseWriter, r *http.Request) {
	if err := s.app.ClearLocalSettings(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	NoContent().Write(w)
}
