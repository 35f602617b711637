package server

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type wipeRequest struct {
	Ticker   string `json:"ticker" validate:"required,max=32"`
	Password string `json:"password" validate:"required"`
}

// handleAdminWipe handles POST /api/admin/wipe, deleting the default report,
// every viewer override and the image of one ticker.
func (s *Server) handleAdminWipe(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	hash := s.app.Config.Auth.AdminPasswordHash
	if hash == "" {
		WriteError(w, http.StatusForbidden, "Admin wipe is disabled")
		return
	}

	var req wipeRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	// bcrypt only considers the first 72 bytes
	password := []byte(req.Password)
	if len(password) > 72 {
		password = password[:72]
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), password); err != nil {
		s.logger.Warn().Str("ticker", req.Ticker).Msg("Admin wipe rejected: bad password")
		WriteError(w, http.StatusUnauthorized, "Invalid admin password")
		return
	}

	n, err := s.app.ReportService.WipeTicker(r.Context(), req.Ticker)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":  req.Ticker,
		"deleted": n,
	})
}
