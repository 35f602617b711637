package server

import (
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/stockgen/internal/common"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// MCP over Streamable HTTP
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(s.app.MCPServer,
		mcpserver.WithStateLess(true),
	))

	// Sessions and open report views
	mux.HandleFunc("/api/sessions", s.handleSessionCreate)
	mux.HandleFunc("/api/sessions/", s.routeSessions)

	// Stored reports
	mux.HandleFunc("/api/reports", s.handleReportList)
	mux.HandleFunc("/api/reports/", s.routeReports)

	// Images
	mux.HandleFunc("/api/images/", s.routeImages)

	// Admin
	mux.HandleFunc("/api/admin/wipe", s.handleAdminWipe)
}

// routeSessions dispatches /api/sessions/{sid}/reports/{ticker}/* to the appropriate handler.
func (s *Server) routeSessions(w http.ResponseWriter, r *http.Request) {
	parts := PathSegments(r, "/api/sessions/")
	if len(parts) == 0 {
		s.handleSessionCreate(w, r)
		return
	}

	sid := parts[0]
	if len(parts) == 1 {
		s.handleSession(w, r, sid)
		return
	}
	if parts[1] != "reports" || len(parts) < 3 {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	ticker := parts[2]
	sub := parts[3:]
	switch {
	case len(sub) == 0:
		s.handleReportView(w, r, sid, ticker)
	case len(sub) == 1 && sub[0] == "resolve":
		s.handleReportResolve(w, r, sid, ticker)
	case len(sub) == 1 && sub[0] == "save":
		s.handleReportSave(w, r, sid, ticker)
	case len(sub) == 2 && sub[0] == "fields":
		s.handleFieldEdit(w, r, sid, ticker, sub[1])
	case len(sub) == 3 && sub[0] == "points":
		s.handlePointPatch(w, r, sid, ticker, sub[1], sub[2])
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// routeReports dispatches /api/reports/{ticker}/{action} and the read-only
// /api/reports/{owner}/{ticker} to the appropriate handler.
func (s *Server) routeReports(w http.ResponseWriter, r *http.Request) {
	parts := PathSegments(r, "/api/reports/")
	if len(parts) == 0 {
		s.handleReportList(w, r)
		return
	}
	if len(parts) != 2 {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	switch parts[1] {
	case "override":
		s.handleOverrideReset(w, r, parts[0])
	case "chart.png":
		s.handleFinancialChart(w, r, parts[0])
	default:
		s.handleSharedReport(w, r, parts[0], parts[1])
	}
}

// routeImages dispatches /api/images/{ticker}[/import] to the appropriate handler.
func (s *Server) routeImages(w http.ResponseWriter, r *http.Request) {
	parts := PathSegments(r, "/api/images/")
	switch {
	case len(parts) == 1:
		s.handleImage(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "import":
		s.handleImageImport(w, r, parts[0])
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
