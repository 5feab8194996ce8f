package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/Checkin/internal/models"
)

// QuestionPatch edits or introduces one question. A patch whose ID matches an
// existing question keeps that identity; Kind may then be left empty.
type QuestionPatch struct {
	ID   string              `json:"id,omitempty"`
	Kind models.QuestionKind `json:"kind,omitempty"`
	Text string              `json:"text"`
}

// TemplatePatch describes an edit. Nil fields are left untouched; a non-nil
// Questions slice replaces the ordered question list.
type TemplatePatch struct {
	Title     *string         `json:"title,omitempty"`
	Questions []QuestionPatch `json:"questions,omitempty"`
}

func (p TemplatePatch) empty() bool { return p.Title == nil && p.Questions == nil }

type TemplateService struct {
	store  TemplateStore
	now    func() time.Time
	idGen  func() string
	qidGen func() string
}

func NewTemplateService(store TemplateStore) *TemplateService {
	return &TemplateService{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		idGen:  newTemplateID,
		qidGen: newQuestionID,
	}
}

func (s *TemplateService) CreateCoachTemplate(ctx context.Context, coachID, title string, questions []models.Question) (*models.Template, error) {
	if strings.TrimSpace(coachID) == "" {
		return nil, NewForbiddenError("coach identity required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, NewFieldError("title", "title required")
	}
	if len(questions) == 0 {
		return nil, NewFieldError("questions", "at least one question required")
	}
	patches := make([]QuestionPatch, 0, len(questions))
	for _, q := range questions {
		patches = append(patches, QuestionPatch{ID: q.ID, Kind: q.Kind, Text: q.Text})
	}
	qs, err := s.buildQuestions(nil, patches)
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &models.Template{
		ID:        s.idGen(),
		Title:     title,
		Questions: qs,
		Owner:     models.CoachOwner(coachID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: now, Actor: coachID, Action: "create_template", Target: t.ID, Note: strconv.Itoa(len(qs))})
	return t.Clone(), nil
}

func (s *TemplateService) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, NewNotFoundError("template not found")
		}
		return nil, err
	}
	return t, nil
}

// GetTemplateFor is GetTemplate restricted to templates the coach can see.
func (s *TemplateService) GetTemplateFor(ctx context.Context, coachID, id string) (*models.Template, error) {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Owner.VisibleTo(coachID) {
		return nil, NewForbiddenError("template belongs to another coach")
	}
	return t, nil
}

// UpdateCoachTemplate mutates a coach's own template in place. The ownership
// check runs inside the store's atomic update so it sees the current record.
func (s *TemplateService) UpdateCoachTemplate(ctx context.Context, coachID, id string, patch TemplatePatch) (*models.Template, error) {
	if patch.empty() {
		return nil, NewInvalidError("nothing to update")
	}
	now := s.now()
	updated, err := s.store.UpdateTemplate(ctx, id, func(t *models.Template) error {
		switch t.Owner.Kind {
		case models.OwnerSystem:
			return NewForbiddenError("system templates are read-only")
		case models.OwnerCoach:
			if !t.Owner.IsCoach(coachID) {
				return NewForbiddenError("template belongs to another coach")
			}
		default:
			return fmt.Errorf("template %s: unknown owner kind %q", t.ID, t.Owner.Kind)
		}
		if err := s.applyPatch(t, patch); err != nil {
			return err
		}
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, NewNotFoundError("template not found")
		}
		if errors.Is(err, models.ErrConflict) {
			return nil, NewConflictError("template was modified concurrently, retry")
		}
		return nil, err
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: now, Actor: coachID, Action: "update_template", Target: id})
	return updated, nil
}

func (s *TemplateService) ListTemplatesVisibleTo(ctx context.Context, coachID string) ([]*models.Template, error) {
	if strings.TrimSpace(coachID) == "" {
		return nil, NewForbiddenError("coach identity required")
	}
	return s.store.ListTemplatesVisibleTo(ctx, coachID)
}

// SeedSystemTemplates inserts system templates whose ids are not stored yet.
// It is the only write path for system-owned templates.
func (s *TemplateService) SeedSystemTemplates(ctx context.Context, templates []models.Template) (int, error) {
	created := 0
	for i := range templates {
		src := templates[i]
		if strings.TrimSpace(src.ID) == "" {
			return created, NewFieldError("id", fmt.Sprintf("seed template %d has no id", i))
		}
		if _, err := s.store.GetTemplate(ctx, src.ID); err == nil {
			continue
		} else if !errors.Is(err, models.ErrNotFound) {
			return created, err
		}
		if strings.TrimSpace(src.Title) == "" {
			return created, NewFieldError(src.ID, "title required")
		}
		if len(src.Questions) == 0 {
			return created, NewFieldError(src.ID, "at least one question required")
		}
		patches := make([]QuestionPatch, 0, len(src.Questions))
		for _, q := range src.Questions {
			patches = append(patches, QuestionPatch{ID: q.ID, Kind: q.Kind, Text: q.Text})
		}
		qs, err := s.buildQuestions(nil, patches)
		if err != nil {
			return created, err
		}
		now := s.now()
		t := &models.Template{
			ID:        src.ID,
			Title:     strings.TrimSpace(src.Title),
			Questions: qs,
			Owner:     models.SystemOwner(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.InsertTemplate(ctx, t); err != nil {
			return created, fmt.Errorf("seed template %s: %w", src.ID, err)
		}
		created++
	}
	if created > 0 {
		s.store.AddAudit(ctx, models.AuditEntry{Time: s.now(), Actor: "system", Action: "seed_templates", Note: strconv.Itoa(created)})
	}
	return created, nil
}

func (s *TemplateService) applyPatch(t *models.Template, patch TemplatePatch) error {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return NewFieldError("title", "title required")
		}
		t.Title = title
	}
	if patch.Questions != nil {
		qs, err := s.buildQuestions(t.Questions, patch.Questions)
		if err != nil {
			return err
		}
		t.Questions = qs
	}
	return nil
}

// buildQuestions turns patches into an ordered question list. A patch that
// references a question in current keeps its id, and its kind and text when
// those are left empty. Patches without an id get a fresh one.
func (s *TemplateService) buildQuestions(current []models.Question, patches []QuestionPatch) ([]models.Question, error) {
	if len(patches) == 0 {
		return nil, NewFieldError("questions", "at least one question required")
	}
	existing := make(map[string]models.Question, len(current))
	for _, q := range current {
		existing[q.ID] = q
	}
	seen := make(map[string]bool, len(patches))
	out := make([]models.Question, 0, len(patches))
	for i, p := range patches {
		id := strings.TrimSpace(p.ID)
		ref := id
		if ref == "" {
			ref = "questions[" + strconv.Itoa(i) + "]"
		}
		q := models.Question{ID: id, Kind: p.Kind, Text: strings.TrimSpace(p.Text)}
		if id == "" {
			q.ID = s.qidGen()
		} else if prev, ok := existing[id]; ok {
			if q.Kind == "" {
				q.Kind = prev.Kind
			} else if q.Kind != prev.Kind {
				return nil, NewFieldError(ref, "question kind cannot change; add a new question instead")
			}
			if q.Text == "" {
				q.Text = prev.Text
			}
		}
		if q.Text == "" {
			return nil, NewFieldError(ref, "question text required")
		}
		if !q.Kind.Valid() {
			return nil, NewFieldError(ref, fmt.Sprintf("unknown question kind %q", p.Kind))
		}
		if seen[q.ID] {
			return nil, NewFieldError(ref, "duplicate question id")
		}
		seen[q.ID] = true
		out = append(out, q)
	}
	return out, nil
}
