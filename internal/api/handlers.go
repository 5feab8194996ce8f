package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/soaringjerry/Checkin/internal/log"
	"github.com/soaringjerry/Checkin/internal/middleware"
	"github.com/soaringjerry/Checkin/internal/models"
	"github.com/soaringjerry/Checkin/internal/services"
)

type registerRequest struct {
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=6"`
	Role     models.Role `json:"role" validate:"required,oneof=coach trainee"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type questionInput struct {
	ID   string              `json:"id"`
	Kind models.QuestionKind `json:"kind" validate:"required,oneof=rating open"`
	Text string              `json:"text" validate:"required"`
}

type createTemplateRequest struct {
	Title     string          `json:"title" validate:"required"`
	Questions []questionInput `json:"questions" validate:"required,min=1,dive"`
}

type assignRequest struct {
	TraineeID  string `json:"trainee_id" validate:"required"`
	TemplateID string `json:"template_id" validate:"required"`
}

// submitRequest carries no validate tags: a missing answers map must reach
// the collector so ownership and status are checked before completeness.
type submitRequest struct {
	Answers map[string]json.RawMessage `json:"answers"`
}

type editResponse struct {
	Template *models.Template `json:"template"`
	Forked   bool             `json:"forked"`
}

// caller returns the verified identity. Routes are guarded by RequireAuth or
// RequireRole, so a missing identity here is a wiring fault.
func caller(r *http.Request) string {
	id, _ := middleware.IdentityFromContext(r.Context())
	return id.UserID
}

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := rt.decode(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}
	res, err := rt.auth.Register(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	created(w, r, res)
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := rt.decode(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}
	res, err := rt.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (rt *Router) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := rt.templates.ListTemplatesVisibleTo(r.Context(), caller(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Template{}
	}
	render.JSON(w, r, map[string]any{"templates": list})
}

func (rt *Router) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := rt.decode(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}
	qs := make([]models.Question, 0, len(req.Questions))
	for _, q := range req.Questions {
		qs = append(qs, models.Question{ID: q.ID, Kind: q.Kind, Text: q.Text})
	}
	tpl, err := rt.templates.CreateCoachTemplate(r.Context(), caller(r), req.Title, qs)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	created(w, r, tpl)
}

func (rt *Router) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := rt.templates.GetTemplateFor(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	render.JSON(w, r, tpl)
}

// PATCH /api/templates/{id}: 201 with the new template when a system
// template was forked, 200 when the coach's own template changed in place.
func (rt *Router) handleEditTemplate(w http.ResponseWriter, r *http.Request) {
	var patch services.TemplatePatch
	if err := rt.decode(r, &patch); err != nil {
		rt.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	tpl, err := rt.forks.ResolveForEdit(r.Context(), id, caller(r), patch)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	if tpl.ID != id {
		templatesForked.Inc()
		created(w, r, editResponse{Template: tpl, Forked: true})
		return
	}
	templatesUpdated.Inc()
	render.JSON(w, r, editResponse{Template: tpl})
}

func (rt *Router) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := rt.decode(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}
	a, err := rt.assignments.Assign(r.Context(), caller(r), req.TraineeID, req.TemplateID)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	assignmentsCreated.Inc()
	if err := rt.notifier.AssignmentCreated(r.Context(), a); err != nil {
		log.WithError(err).WithField("assignment", a.ID).Warn("notify trainee")
	}
	created(w, r, a)
}

func (rt *Router) handleCoachAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := rt.assignments.ListForCoach(r.Context(), caller(r))
	rt.writeAssignments(w, r, list, err)
}

func (rt *Router) handleMyAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := rt.assignments.ListForTrainee(r.Context(), caller(r))
	rt.writeAssignments(w, r, list, err)
}

func (rt *Router) writeAssignments(w http.ResponseWriter, r *http.Request, list []*models.Assignment, err error) {
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Assignment{}
	}
	render.JSON(w, r, map[string]any{"assignments": list})
}

func (rt *Router) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := rt.assignments.GetAssignmentFor(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	render.JSON(w, r, a)
}

func (rt *Router) handleSubmitAnswers(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := rt.decode(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}
	set, err := rt.answers.SubmitRawAnswers(r.Context(), chi.URLParam(r, "id"), caller(r), req.Answers)
	answersSubmitted.WithLabelValues(submitResult(err)).Inc()
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	created(w, r, set)
}

func (rt *Router) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := rt.answers.GetResults(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.audit.ListAudit(r.Context(), caller(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	render.JSON(w, r, map[string]any{"entries": entries})
}

// GET /api/coach/export?format=long|wide|questions&template_id=...
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := rt.exports.ExportCSV(r.Context(), services.ExportParams{
		CoachID:    caller(r),
		TemplateID: q.Get("template_id"),
		Format:     q.Get("format"),
	})
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}
