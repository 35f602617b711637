package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/report"
)

// maxStateWait caps the ?wait= long-poll of GET report state.
const maxStateWait = 30 * time.Second

type sessionResponse struct {
	SessionID string            `json:"session_id"`
	Viewer    string            `json:"viewer,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Budget    report.BudgetView `json:"budget"`
}

type openReportRequest struct {
	Name   string            `json:"name" validate:"max=200"`
	Fields map[string]string `json:"fields"`
}

type resolveRequest struct {
	Field string `json:"field"`
}

type editFieldRequest struct {
	Value *string `json:"value" validate:"required"`
}

type patchPointRequest struct {
	Part string `json:"part" validate:"required,oneof=title body mitigation"`
	Text string `json:"text" validate:"required"`
}

func newSessionResponse(sess *report.Session) sessionResponse {
	return sessionResponse{
		SessionID: sess.ID,
		Viewer:    sess.Viewer,
		CreatedAt: sess.CreatedAt,
		Budget: report.BudgetView{
			Limit:     sess.Budget.Limit(),
			Used:      sess.Budget.Used(),
			Remaining: sess.Budget.Remaining(),
		},
	}
}

// handleSessionCreate handles POST /api/sessions for the request's viewer.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	sess, err := s.app.ReportService.CreateSession(common.ResolveViewerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, newSessionResponse(sess))
}

// handleSession handles GET and DELETE /api/sessions/{sid}.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, sid string) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	sess, ok := s.requireSession(w, r, sid)
	if !ok {
		return
	}
	if r.Method == http.MethodDelete {
		s.app.ReportService.CloseSession(sess.ID)
		WriteJSON(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}
	WriteJSON(w, http.StatusOK, newSessionResponse(sess))
}

// handleReportView handles POST (open), GET (state) and DELETE (navigate away)
// on /api/sessions/{sid}/reports/{ticker}.
func (s *Server) handleReportView(w http.ResponseWriter, r *http.Request, sid, ticker string) {
	if !RequireMethod(w, r, http.MethodPost, http.MethodGet, http.MethodDelete) {
		return
	}
	if _, ok := s.requireSession(w, r, sid); !ok {
		return
	}
	svc := s.app.ReportService

	switch r.Method {
	case http.MethodPost:
		var req openReportRequest
		if r.ContentLength != 0 && !s.decodeAndValidate(w, r, &req) {
			return
		}
		view, err := svc.OpenView(r.Context(), sid, ticker, report.Seed{Name: req.Name, Fields: req.Fields})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, view.State())

	case http.MethodGet:
		view, err := svc.View(sid, ticker)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if wait := r.URL.Query().Get("wait"); wait != "" {
			d, err := time.ParseDuration(wait)
			if err != nil || d < 0 {
				WriteError(w, http.StatusBadRequest, "wait must be a duration such as 5s")
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), min(d, maxStateWait))
			_ = view.Wait(ctx)
			cancel()
		}
		WriteJSON(w, http.StatusOK, view.State())

	case http.MethodDelete:
		if err := svc.CloseView(sid, ticker); err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

// handleReportResolve handles POST /api/sessions/{sid}/reports/{ticker}/resolve.
// With a field it re-requests that field synchronously; without one it resumes
// background resolution of the whole report.
func (s *Server) handleReportResolve(w http.ResponseWriter, r *http.Request, sid, ticker string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := s.requireSession(w, r, sid); !ok {
		return
	}

	var req resolveRequest
	if r.ContentLength != 0 && !s.decodeAndValidate(w, r, &req) {
		return
	}

	if req.Field == "" {
		if _, err := s.app.ReportService.View(sid, ticker); err != nil {
			writeServiceError(w, err)
			return
		}
		view, err := s.app.ReportService.OpenView(r.Context(), sid, ticker, report.Seed{})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, view.State())
		return
	}

	view, err := s.app.ReportService.View(sid, ticker)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rv, err := view.Resolve(r.Context(), req.Field)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rv)
}

// handleFieldEdit handles PUT /api/sessions/{sid}/reports/{ticker}/fields/{field}.
func (s *Server) handleFieldEdit(w http.ResponseWriter, r *http.Request, sid, ticker, field string) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	view, ok := s.requireView(w, r, sid, ticker)
	if !ok {
		return
	}
	var req editFieldRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := view.Edit(field, *req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"field": field,
		"dirty": view.Cache().Dirty(),
	})
}

// handleReportSave handles POST /api/sessions/{sid}/reports/{ticker}/save.
func (s *Server) handleReportSave(w http.ResponseWriter, r *http.Request, sid, ticker string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	view, ok := s.requireView(w, r, sid, ticker)
	if !ok {
		return
	}
	saved, err := view.Save(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

// handlePointPatch handles PATCH /api/sessions/{sid}/reports/{ticker}/points/{field}/{index}.
func (s *Server) handlePointPatch(w http.ResponseWriter, r *http.Request, sid, ticker, field, indexStr string) {
	if !RequireMethod(w, r, http.MethodPatch) {
		return
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	view, ok := s.requireView(w, r, sid, ticker)
	if !ok {
		return
	}
	var req patchPointRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	encoded, err := view.PatchPoint(r.Context(), field, index, models.PointPart(req.Part), req.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"field": field,
		"index": index,
		"value": encoded,
	})
}

// requireSession loads a session and checks it belongs to the request's viewer.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request, sid string) (*report.Session, bool) {
	sess, err := s.app.ReportService.GetSession(sid)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if sess.Viewer != common.ResolveViewerID(r.Context()) {
		WriteError(w, http.StatusForbidden, "Session belongs to another viewer")
		return nil, false
	}
	return sess, true
}

// requireView loads an open view of a session owned by the request's viewer.
func (s *Server) requireView(w http.ResponseWriter, r *http.Request, sid, ticker string) (*report.View, bool) {
	if _, ok := s.requireSession(w, r, sid); !ok {
		return nil, false
	}
	view, err := s.app.ReportService.View(sid, ticker)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return view, true
}
