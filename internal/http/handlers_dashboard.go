package http

import (
	"net/http"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(s.app.Dashboard()).Write(w)
}

// handleDownloadExport streams the backup document as a file download.
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.app.Exporter.Build()
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Raw("application/json", data).
		Attachment(name).
		Write(w)
}

// handleExport writes the backup to the configured directory and bucket.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Exporter.Export(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(res).Write(w)
}
