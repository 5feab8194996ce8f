package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/soaringjerry/Checkin/internal/models"
)

// ForkEngine decides, per edit request, whether a template is mutated in place
// or copied into a new coach-owned template.
type ForkEngine struct {
	templates *TemplateService
}

func NewForkEngine(templates *TemplateService) *ForkEngine {
	return &ForkEngine{templates: templates}
}

// ResolveForEdit applies patch on behalf of coachID. Editing a system template
// always produces a new fork; repeated edits are not deduplicated. Callers can
// tell a fork happened by comparing the returned id with templateID.
func (f *ForkEngine) ResolveForEdit(ctx context.Context, templateID, coachID string, patch TemplatePatch) (*models.Template, error) {
	if strings.TrimSpace(coachID) == "" {
		return nil, NewForbiddenError("coach identity required")
	}
	src, err := f.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	switch src.Owner.Kind {
	case models.OwnerCoach:
		if !src.Owner.IsCoach(coachID) {
			return nil, NewForbiddenError("template belongs to another coach")
		}
		return f.templates.UpdateCoachTemplate(ctx, coachID, templateID, patch)
	case models.OwnerSystem:
		return f.fork(ctx, src, coachID, patch)
	default:
		return nil, fmt.Errorf("template %s: unknown owner kind %q", src.ID, src.Owner.Kind)
	}
}

// fork copies a system template for coachID. The parent is always the system
// template itself, so forks never chain.
func (f *ForkEngine) fork(ctx context.Context, sys *models.Template, coachID string, patch TemplatePatch) (*models.Template, error) {
	s := f.templates
	now := s.now()
	forked := &models.Template{
		ID:               s.idGen(),
		Title:            sys.Title,
		Questions:        models.CloneQuestions(sys.Questions),
		Owner:            models.CoachOwner(coachID),
		ParentTemplateID: sys.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.applyPatch(forked, patch); err != nil {
		return nil, err
	}
	if err := s.store.InsertTemplate(ctx, forked); err != nil {
		return nil, fmt.Errorf("insert fork: %w", err)
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: now, Actor: coachID, Action: "fork_template", Target: forked.ID, Note: "parent=" + sys.ID})
	return forked.Clone(), nil
}
