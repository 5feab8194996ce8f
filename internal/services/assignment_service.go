package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soaringjerry/Checkin/internal/models"
)

// AssignmentService snapshots templates into trainee assignments.
type AssignmentService struct {
	store AssignmentStore
	now   func() time.Time
	idGen func() string
}

func NewAssignmentService(store AssignmentStore) *AssignmentService {
	return &AssignmentService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: newAssignmentID,
	}
}

// Assign copies the template's title and questions into a new pending
// assignment. The template store is only read.
func (s *AssignmentService) Assign(ctx context.Context, coachID, traineeID, templateID string) (*models.Assignment, error) {
	if strings.TrimSpace(coachID) == "" {
		return nil, NewForbiddenError("coach identity required")
	}
	traineeID = strings.TrimSpace(traineeID)
	if traineeID == "" {
		return nil, NewFieldError("trainee_id", "trainee required")
	}
	t, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, NewNotFoundError("template not found")
		}
		return nil, err
	}
	if !t.Owner.VisibleTo(coachID) {
		return nil, NewForbiddenError("template belongs to another coach")
	}
	if len(t.Questions) == 0 {
		return nil, NewFieldError("questions", "template has no questions")
	}
	a := &models.Assignment{
		ID:               s.idGen(),
		CoachID:          coachID,
		TraineeID:        traineeID,
		SourceTemplateID: t.ID,
		Title:            t.Title,
		Questions:        models.CloneQuestions(t.Questions),
		Status:           models.StatusPending,
		AssignedAt:       s.now(),
	}
	if err := s.store.InsertAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: a.AssignedAt, Actor: coachID, Action: "assign", Target: a.ID, Note: "trainee=" + traineeID + " template=" + t.ID})
	return a.Clone(), nil
}

func (s *AssignmentService) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, NewNotFoundError("assignment not found")
		}
		return nil, err
	}
	return a, nil
}

// GetAssignmentFor returns the assignment when viewerID is its coach or trainee.
func (s *AssignmentService) GetAssignmentFor(ctx context.Context, id, viewerID string) (*models.Assignment, error) {
	a, err := s.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(a, viewerID) {
		return nil, NewForbiddenError("assignment belongs to someone else")
	}
	return a, nil
}

// ListForTrainee returns the trainee's assignments, newest first.
func (s *AssignmentService) ListForTrainee(ctx context.Context, traineeID string) ([]*models.Assignment, error) {
	if strings.TrimSpace(traineeID) == "" {
		return nil, NewForbiddenError("trainee identity required")
	}
	list, err := s.store.ListAssignmentsByTrainee(ctx, traineeID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(list)
	return list, nil
}

// ListForCoach returns the assignments a coach has sent, newest first.
func (s *AssignmentService) ListForCoach(ctx context.Context, coachID string) ([]*models.Assignment, error) {
	if strings.TrimSpace(coachID) == "" {
		return nil, NewForbiddenError("coach identity required")
	}
	list, err := s.store.ListAssignmentsByCoach(ctx, coachID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(list)
	return list, nil
}

func canView(a *models.Assignment, viewerID string) bool {
	return viewerID != "" && (a.TraineeID == viewerID || a.CoachID == viewerID)
}

func sortNewestFirst(list []*models.Assignment) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].AssignedAt.Equal(list[j].AssignedAt) {
			return list[i].AssignedAt.After(list[j].AssignedAt)
		}
		return list[i].ID > list[j].ID
	})
}
