package server

import (
	"net/http"
	"strconv"

	"github.com/bobmcallan/stockgen/internal/common"
)

// handleReportList handles GET /api/reports?owner= (the viewer dashboard).
// The owner defaults to the request's viewer; a viewer may only list their own.
func (s *Server) handleReportList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	viewer := common.ResolveViewerID(r.Context())
	owner := r.URL.Query().Get("owner")
	switch {
	case owner == "":
		owner = viewer
	case viewer != "" && owner != viewer:
		WriteError(w, http.StatusForbidden, "Cannot list another viewer's reports")
		return
	}
	if owner == "" {
		WriteError(w, http.StatusBadRequest, "owner is required")
		return
	}

	list, err := s.app.ReportService.ListOwnerReports(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"owner":   owner,
		"reports": list,
	})
}

// handleOverrideReset handles DELETE /api/reports/{ticker}/override.
func (s *Server) handleOverrideReset(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	viewer := common.ResolveViewerID(r.Context())
	if viewer == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := s.app.ReportService.ResetOverride(r.Context(), viewer, ticker); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleSharedReport handles GET /api/reports/{owner}/{ticker}, the read-only
// share view. It never generates and needs no session.
func (s *Server) handleSharedReport(w http.ResponseWriter, r *http.Request, owner, ticker string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	shared, err := s.app.ReportService.SharedReport(r.Context(), owner, ticker)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, shared)
}

// handleFinancialChart handles GET /api/reports/{ticker}/chart.png.
func (s *Server) handleFinancialChart(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	png, err := s.app.ReportService.FinancialChart(r.Context(), ticker)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
