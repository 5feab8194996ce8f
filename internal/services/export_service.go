package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soaringjerry/Checkin/internal/models"
)

// ExportStore is what the results export reads.
type ExportStore interface {
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	ListAssignmentsByCoach(ctx context.Context, coachID string) ([]*models.Assignment, error)
	GetAnswerSet(ctx context.Context, assignmentID string) (*models.AnswerSet, error)
}

type ExportParams struct {
	CoachID    string
	TemplateID string // optional for long, required for wide
	Format     string // long (default), wide or questions
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService dumps a coach's answered assignments as CSV.
type ExportService struct {
	store ExportStore
}

func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store}
}

func (s *ExportService) ExportCSV(ctx context.Context, params ExportParams) (*ExportResult, error) {
	if params.CoachID == "" {
		return nil, NewForbiddenError("coach identity required")
	}
	format := params.Format
	if format == "" {
		format = "long"
	}
	switch format {
	case "long":
		answered, err := s.answered(ctx, params)
		if err != nil {
			return nil, err
		}
		b, err := ExportLongCSV(buildLongRows(answered))
		if err != nil {
			return nil, err
		}
		return csvResult("long.csv", b), nil
	case "wide":
		if params.TemplateID == "" {
			return nil, NewFieldError("template_id", "template_id required for wide export")
		}
		answered, err := s.answered(ctx, params)
		if err != nil {
			return nil, err
		}
		columns, rows := buildWideRows(answered)
		b, err := ExportWideCSV(columns, rows)
		if err != nil {
			return nil, err
		}
		return csvResult("wide.csv", b), nil
	case "questions":
		if params.TemplateID == "" {
			return nil, NewFieldError("template_id", "template_id required for questions export")
		}
		t, err := s.store.GetTemplate(ctx, params.TemplateID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, NewNotFoundError("template not found")
			}
			return nil, err
		}
		if !t.Owner.VisibleTo(params.CoachID) {
			return nil, NewForbiddenError("template belongs to another coach")
		}
		b, err := ExportQuestionsCSV(t)
		if err != nil {
			return nil, err
		}
		return csvResult("questions.csv", b), nil
	default:
		return nil, NewFieldError("format", "unsupported format")
	}
}

func csvResult(name string, data []byte) *ExportResult {
	return &ExportResult{Filename: name, ContentType: "text/csv; charset=utf-8", Data: data}
}

type answeredAssignment struct {
	assignment *models.Assignment
	answers    *models.AnswerSet
}

// answered lists the coach's answered assignments, oldest first, optionally
// restricted to one source template.
func (s *ExportService) answered(ctx context.Context, params ExportParams) ([]answeredAssignment, error) {
	list, err := s.store.ListAssignmentsByCoach(ctx, params.CoachID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(list)
	out := make([]answeredAssignment, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		a := list[i]
		if a.Status != models.StatusAnswered {
			continue
		}
		if params.TemplateID != "" && a.SourceTemplateID != params.TemplateID {
			continue
		}
		set, err := s.store.GetAnswerSet(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("answers for %s: %w", a.ID, err)
		}
		out = append(out, answeredAssignment{assignment: a, answers: set})
	}
	return out, nil
}

func buildLongRows(answered []answeredAssignment) []LongRow {
	var out []LongRow
	for _, aa := range answered {
		for _, q := range aa.assignment.Questions {
			out = append(out, LongRow{
				AssignmentID: aa.assignment.ID,
				TraineeID:    aa.assignment.TraineeID,
				TemplateID:   aa.assignment.SourceTemplateID,
				QuestionID:   q.ID,
				Kind:         q.Kind,
				Value:        answerString(aa.answers.Answers[q.ID]),
				SubmittedAt:  aa.answers.SubmittedAt.Format(time.RFC3339),
			})
		}
	}
	return out
}

// buildWideRows uses the union of snapshot question ids as columns, in
// first-seen order, since edits between assignments can change the set.
func buildWideRows(answered []answeredAssignment) ([]string, []WideRow) {
	var columns []string
	seen := map[string]bool{}
	rows := make([]WideRow, 0, len(answered))
	for _, aa := range answered {
		values := map[string]string{}
		for _, q := range aa.assignment.Questions {
			if !seen[q.ID] {
				seen[q.ID] = true
				columns = append(columns, q.ID)
			}
			values[q.ID] = answerString(aa.answers.Answers[q.ID])
		}
		rows = append(rows, WideRow{
			AssignmentID: aa.assignment.ID,
			TraineeID:    aa.assignment.TraineeID,
			SubmittedAt:  aa.answers.SubmittedAt.Format(time.RFC3339),
			Values:       values,
		})
	}
	return columns, rows
}
