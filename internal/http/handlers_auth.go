package http

import (
	"net/http"

	"lifesync/internal/core"
	"lifesync/internal/log"
)

type authState struct {
	State     string          `json:"state"`
	Pending   bool            `json:"pending"`
	Principal *core.Principal `json:"principal"`
}

func (s *Server) currentAuth() authState {
	session := s.app.Session
	return authState{
		State:     session.State().String(),
		Pending:   session.Pending(),
		Principal: session.Current(),
	}
}

func (s *Server) handleAuthState(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(s.currentAuth()).Write(w)
}

// handleLogin runs the provider's interactive sign-in and answers once the
// principal is confirmed.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p, err := s.app.Session.SignIn(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Signed in",
		log.FieldOperation, log.OpSignIn,
		log.FieldPrincipalID, p.ID)
	NewJSONResponse().Data(s.currentAuth()).Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Session.SignOut(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Signed out", log.FieldOperation, log.OpSignOut)
	NewJSONResponse().Data(s.currentAuth()).Write(w)
}
