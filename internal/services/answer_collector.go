package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/Checkin/internal/models"
)

// AnswerCollector validates a trainee's answers against the frozen question
// set and closes the assignment.
type AnswerCollector struct {
	store AnswerStore
	now   func() time.Time
}

func NewAnswerCollector(store AnswerStore) *AnswerCollector {
	return &AnswerCollector{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Results pairs an assignment with its recorded answers.
type Results struct {
	Assignment *models.Assignment `json:"assignment"`
	Answers    *models.AnswerSet  `json:"answers"`
}

// SubmitAnswers records answers for a pending assignment. A second submission
// fails with a conflict; it is never merged or ignored.
func (c *AnswerCollector) SubmitAnswers(ctx context.Context, assignmentID, traineeID string, answers map[string]models.AnswerValue) (*models.AnswerSet, error) {
	return c.submit(ctx, assignmentID, traineeID, func(questions []models.Question) (map[string]models.AnswerValue, error) {
		return ValidateAnswers(questions, answers)
	})
}

// SubmitRawAnswers is SubmitAnswers for undecoded JSON values of the form
// {"rating": 8} or {"text": "..."}. Decoding problems are reported as
// validation errors against the question id, after the ownership and status
// checks.
func (c *AnswerCollector) SubmitRawAnswers(ctx context.Context, assignmentID, traineeID string, raw map[string]json.RawMessage) (*models.AnswerSet, error) {
	return c.submit(ctx, assignmentID, traineeID, func(questions []models.Question) (map[string]models.AnswerValue, error) {
		answers, err := DecodeAnswers(raw)
		if err != nil {
			return nil, err
		}
		return ValidateAnswers(questions, answers)
	})
}

func (c *AnswerCollector) submit(ctx context.Context, assignmentID, traineeID string, validate func([]models.Question) (map[string]models.AnswerValue, error)) (*models.AnswerSet, error) {
	a, err := c.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, NewNotFoundError("assignment not found")
		}
		return nil, err
	}
	if traineeID == "" || a.TraineeID != traineeID {
		return nil, NewForbiddenError("assignment belongs to another trainee")
	}
	if a.Status != models.StatusPending {
		return nil, NewConflictError("assignment already answered")
	}
	clean, err := validate(a.Questions)
	if err != nil {
		return nil, err
	}
	set := &models.AnswerSet{
		AssignmentID: a.ID,
		TraineeID:    traineeID,
		Answers:      clean,
		SubmittedAt:  c.now(),
	}
	if err := c.store.FinalizeAnswers(ctx, set); err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			return nil, NewConflictError("assignment already answered")
		case errors.Is(err, models.ErrNotFound):
			return nil, NewNotFoundError("assignment not found")
		}
		return nil, fmt.Errorf("finalize answers: %w", err)
	}
	c.store.AddAudit(ctx, models.AuditEntry{Time: set.SubmittedAt, Actor: traineeID, Action: "submit_answers", Target: a.ID, Note: strconv.Itoa(len(clean))})
	return set.Clone(), nil
}

// GetResults returns an answered assignment with its answers. Only the
// assignment's coach and trainee may read them.
func (c *AnswerCollector) GetResults(ctx context.Context, assignmentID, viewerID string) (*Results, error) {
	a, err := c.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, NewNotFoundError("assignment not found")
		}
		return nil, err
	}
	if !canView(a, viewerID) {
		return nil, NewForbiddenError("assignment belongs to someone else")
	}
	if a.Status != models.StatusAnswered {
		return nil, NewNotFoundError("assignment not answered yet")
	}
	set, err := c.store.GetAnswerSet(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, NewNotFoundError("answers not found")
		}
		return nil, err
	}
	return &Results{Assignment: a, Answers: set}, nil
}

// ValidateAnswers checks answers against questions in question order, then
// rejects keys that match no question. It returns a normalized copy with
// open-text answers trimmed.
func ValidateAnswers(questions []models.Question, answers map[string]models.AnswerValue) (map[string]models.AnswerValue, error) {
	out := make(map[string]models.AnswerValue, len(questions))
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
		v, ok := answers[q.ID]
		if !ok {
			return nil, NewFieldError(q.ID, "answer required")
		}
		switch q.Kind {
		case models.KindRating:
			if v.Rating == nil || v.Text != nil {
				return nil, NewFieldError(q.ID, "rating answer required")
			}
			if *v.Rating < models.RatingMin || *v.Rating > models.RatingMax {
				return nil, NewFieldError(q.ID, fmt.Sprintf("rating must be between %d and %d", models.RatingMin, models.RatingMax))
			}
			out[q.ID] = models.RatingAnswer(*v.Rating)
		case models.KindOpen:
			if v.Text == nil || v.Rating != nil {
				return nil, NewFieldError(q.ID, "text answer required")
			}
			text := strings.TrimSpace(*v.Text)
			if text == "" {
				return nil, NewFieldError(q.ID, "answer must not be empty")
			}
			out[q.ID] = models.TextAnswer(text)
		default:
			return nil, fmt.Errorf("question %s: unknown kind %q", q.ID, q.Kind)
		}
	}
	var stray []string
	for k := range answers {
		if !known[k] {
			stray = append(stray, k)
		}
	}
	if len(stray) > 0 {
		sort.Strings(stray)
		return nil, NewFieldError(stray[0], "answer does not match any question")
	}
	return out, nil
}

// DecodeAnswers turns raw JSON answer values into tagged answers. Ratings must
// be JSON numbers with an integral value; text must be a JSON string.
func DecodeAnswers(raw map[string]json.RawMessage) (map[string]models.AnswerValue, error) {
	out := make(map[string]models.AnswerValue, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, qid := range keys {
		var payload struct {
			Rating json.RawMessage `json:"rating"`
			Text   json.RawMessage `json:"text"`
		}
		if err := json.Unmarshal(raw[qid], &payload); err != nil {
			return nil, NewFieldError(qid, "answer must be an object with rating or text")
		}
		hasRating := len(payload.Rating) > 0 && string(payload.Rating) != "null"
		hasText := len(payload.Text) > 0 && string(payload.Text) != "null"
		switch {
		case hasRating && hasText:
			return nil, NewFieldError(qid, "answer must carry either rating or text, not both")
		case hasRating:
			n, err := parseRating(payload.Rating)
			if err != nil {
				return nil, NewFieldError(qid, err.Error())
			}
			out[qid] = models.RatingAnswer(n)
		case hasText:
			var text string
			if err := json.Unmarshal(payload.Text, &text); err != nil {
				return nil, NewFieldError(qid, "text must be a string")
			}
			out[qid] = models.TextAnswer(text)
		default:
			return nil, NewFieldError(qid, "answer must carry rating or text")
		}
	}
	return out, nil
}

func parseRating(raw json.RawMessage) (int, error) {
	if b := bytes.TrimSpace(raw); len(b) > 0 && b[0] == '"' {
		return 0, errors.New("rating must be a number")
	}
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return 0, errors.New("rating must be a number")
	}
	if n, err := strconv.Atoi(num.String()); err == nil {
		return n, nil
	}
	f, err := num.Float64()
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, errors.New("rating must be a whole number")
	}
	return int(f), nil
}
