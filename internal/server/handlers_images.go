package server

import (
	"net/http"
)

type saveImageRequest struct {
	DataURI   string `json:"data_uri" validate:"required,startswith=data:image/"`
	SourceURL string `json:"source_url" validate:"omitempty,url"`
}

type importImageRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// handleImage handles GET, PUT and DELETE /api/images/{ticker}.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete) {
		return
	}
	svc := s.app.ReportService
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		img, err := svc.GetImage(ctx, ticker)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, img)

	case http.MethodPut:
		var req saveImageRequest
		if !s.decodeAndValidate(w, r, &req) {
			return
		}
		img, err := svc.SaveImage(ctx, ticker, req.DataURI, req.SourceURL)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, img)

	case http.MethodDelete:
		if err := svc.DeleteImage(ctx, ticker); err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleImageImport handles POST /api/images/{ticker}/import, downloading a
// remote image server-side so the browser never needs CORS access to it.
func (s *Server) handleImageImport(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req importImageRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	img, err := s.app.ReportService.ImportImage(r.Context(), ticker, req.URL)
	if err != nil {
		s.logger.Warn().Err(err).Str("ticker", ticker).Str("url", req.URL).Msg("Image import failed")
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, img)
}
