package services

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/soaringjerry/Checkin/internal/models"
)

// stubStore is a map-backed Store with hooks for failure injection.
type stubStore struct {
	mu          sync.Mutex
	templates   map[string]*models.Template
	order       []string
	assignments map[string]*models.Assignment
	answers     map[string]*models.AnswerSet
	users       map[string]*models.User
	audits      []models.AuditEntry

	templateWrites int
	finalizeErr    error
}

func newStubStore() *stubStore {
	return &stubStore{
		templates:   map[string]*models.Template{},
		assignments: map[string]*models.Assignment{},
		answers:     map[string]*models.AnswerSet{},
		users:       map[string]*models.User{},
	}
}

func (s *stubStore) InsertTemplate(_ context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; ok {
		return models.ErrConflict
	}
	s.templates[t.ID] = t.Clone()
	s.order = append(s.order, t.ID)
	s.templateWrites++
	return nil
}

func (s *stubStore) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.templates[id]; ok {
		return t.Clone(), nil
	}
	return nil, models.ErrNotFound
}

func (s *stubStore) ListTemplatesVisibleTo(_ context.Context, coachID string) ([]*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Template
	for _, id := range s.order {
		if t := s.templates[id]; t.Owner.VisibleTo(coachID) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *stubStore) UpdateTemplate(_ context.Context, id string, fn func(t *models.Template) error) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.templates[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.templates[id] = next
	s.templateWrites++
	return next.Clone(), nil
}

func (s *stubStore) InsertAssignment(_ context.Context, a *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; ok {
		return models.ErrConflict
	}
	s.assignments[a.ID] = a.Clone()
	return nil
}

func (s *stubStore) GetAssignment(_ context.Context, id string) (*models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assignments[id]; ok {
		return a.Clone(), nil
	}
	return nil, models.ErrNotFound
}

func (s *stubStore) ListAssignmentsByTrainee(_ context.Context, traineeID string) ([]*models.Assignment, error) {
	return s.filter(func(a *models.Assignment) bool { return a.TraineeID == traineeID }), nil
}

func (s *stubStore) ListAssignmentsByCoach(_ context.Context, coachID string) ([]*models.Assignment, error) {
	return s.filter(func(a *models.Assignment) bool { return a.CoachID == coachID }), nil
}

func (s *stubStore) filter(keep func(*models.Assignment) bool) []*models.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Assignment
	for _, a := range s.assignments {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	return out
}

func (s *stubStore) FinalizeAnswers(_ context.Context, set *models.AnswerSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	a, ok := s.assignments[set.AssignmentID]
	if !ok {
		return models.ErrNotFound
	}
	if a.Status != models.StatusPending {
		return models.ErrConflict
	}
	at := set.SubmittedAt
	a.Status = models.StatusAnswered
	a.AnsweredAt = &at
	s.answers[set.AssignmentID] = set.Clone()
	return nil
}

func (s *stubStore) GetAnswerSet(_ context.Context, assignmentID string) (*models.AnswerSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.answers[assignmentID]; ok {
		return set.Clone(), nil
	}
	return nil, models.ErrNotFound
}

func (s *stubStore) AddAudit(_ context.Context, e models.AuditEntry) {
	s.mu.Lock()
	s.audits = append(s.audits, e)
	s.mu.Unlock()
}

func (s *stubStore) ListAudit(_ context.Context, actor string) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range s.audits {
		if actor == "" || e.Actor == actor {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[strings.ToLower(email)]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, models.ErrNotFound
}

func (s *stubStore) AddUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.users[key]; ok {
		return models.ErrConflict
	}
	copy := *u
	s.users[key] = &copy
	return nil
}

func (s *stubStore) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audits))
	for _, e := range s.audits {
		out = append(out, e.Action)
	}
	return out
}

// fixedClock returns successive instants one second apart.
func fixedClock() func() time.Time {
	var mu sync.Mutex
	cur := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

// seqIDs returns prefix1, prefix2, ...
func seqIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + strconv.Itoa(n)
	}
}

func seedSystem(s *stubStore, id string, questions ...models.Question) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.InsertTemplate(context.Background(), &models.Template{
		ID:        id,
		Title:     "System " + id,
		Questions: questions,
		Owner:     models.SystemOwner(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	s.templateWrites = 0
}

func codeOf(err error) ErrorCode {
	if se, ok := AsServiceError(err); ok {
		return se.Code
	}
	return ""
}
