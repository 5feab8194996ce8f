package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/soaringjerry/Checkin/internal/models"
)

// TemplateStore abstracts template persistence. GetTemplate returns
// models.ErrNotFound for unknown ids. UpdateTemplate runs fn against a copy of
// the stored record and persists the result atomically; an error from fn aborts
// the write and is returned unchanged.
type TemplateStore interface {
	InsertTemplate(ctx context.Context, t *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	ListTemplatesVisibleTo(ctx context.Context, coachID string) ([]*models.Template, error)
	UpdateTemplate(ctx context.Context, id string, fn func(t *models.Template) error) (*models.Template, error)
	AddAudit(ctx context.Context, e models.AuditEntry)
}

// AssignmentStore is what AssignmentService needs: template reads and
// assignment records.
type AssignmentStore interface {
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	InsertAssignment(ctx context.Context, a *models.Assignment) error
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	ListAssignmentsByTrainee(ctx context.Context, traineeID string) ([]*models.Assignment, error)
	ListAssignmentsByCoach(ctx context.Context, coachID string) ([]*models.Assignment, error)
	AddAudit(ctx context.Context, e models.AuditEntry)
}

// AnswerStore backs the answer collector. FinalizeAnswers must store the
// answer set and flip the assignment from pending to answered in one atomic
// step, returning models.ErrConflict when the assignment is no longer pending.
type AnswerStore interface {
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	FinalizeAnswers(ctx context.Context, set *models.AnswerSet) error
	GetAnswerSet(ctx context.Context, assignmentID string) (*models.AnswerSet, error)
	AddAudit(ctx context.Context, e models.AuditEntry)
}

type AuditStore interface {
	ListAudit(ctx context.Context, actor string) ([]models.AuditEntry, error)
}

// Store is the full persistence surface. Every backend implements it.
type Store interface {
	TemplateStore
	AssignmentStore
	AnswerStore
	AuditStore
	AuthStore
	ExportStore
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func newTemplateID() string   { return "tpl_" + shortID(12) }
func newAssignmentID() string { return "asg_" + shortID(12) }
func newQuestionID() string   { return "q_" + shortID(8) }
