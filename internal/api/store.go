package api

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/soaringjerry/Checkin/internal/models"
	"github.com/soaringjerry/Checkin/internal/services"
)

// MemoryStore keeps everything in process. Records are copied on the way in
// and on the way out, so callers never share memory with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	templates     map[string]*models.Template
	templateOrder []string
	assignments   map[string]*models.Assignment
	answers       map[string]*models.AnswerSet
	usersByEmail  map[string]*models.User
	audit         []models.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:    map[string]*models.Template{},
		assignments:  map[string]*models.Assignment{},
		answers:      map[string]*models.AnswerSet{},
		usersByEmail: map[string]*models.User{},
		audit:        []models.AuditEntry{},
	}
}

var _ services.Store = (*MemoryStore)(nil)

func (s *MemoryStore) InsertTemplate(_ context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; ok {
		return models.ErrConflict
	}
	s.templates[t.ID] = t.Clone()
	s.templateOrder = append(s.templateOrder, t.ID)
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return t.Clone(), nil
}

// ListTemplatesVisibleTo returns system templates and the coach's own, in
// insertion order.
func (s *MemoryStore) ListTemplatesVisibleTo(_ context.Context, coachID string) ([]*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Template{}
	for _, id := range s.templateOrder {
		t := s.templates[id]
		if t.Owner.VisibleTo(coachID) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// UpdateTemplate holds the write lock across fn, so concurrent edits are
// serialized and the stored record is replaced whole.
func (s *MemoryStore) UpdateTemplate(_ context.Context, id string, fn func(t *models.Template) error) (*models.Template, error) {
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
	next.ID = cur.ID
	s.templates[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) InsertAssignment(_ context.Context, a *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; ok {
		return models.ErrConflict
	}
	s.assignments[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) GetAssignment(_ context.Context, id string) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListAssignmentsByTrainee(_ context.Context, traineeID string) ([]*models.Assignment, error) {
	return s.filterAssignments(func(a *models.Assignment) bool { return a.TraineeID == traineeID }), nil
}

func (s *MemoryStore) ListAssignmentsByCoach(_ context.Context, coachID string) ([]*models.Assignment, error) {
	return s.filterAssignments(func(a *models.Assignment) bool { return a.CoachID == coachID }), nil
}

func (s *MemoryStore) filterAssignments(keep func(*models.Assignment) bool) []*models.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Assignment{}
	for _, a := range s.assignments {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FinalizeAnswers checks and flips the status under the write lock.
func (s *MemoryStore) FinalizeAnswers(_ context.Context, set *models.AnswerSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[set.AssignmentID]
	if !ok {
		return models.ErrNotFound
	}
	if a.Status != models.StatusPending {
		return models.ErrConflict
	}
	if _, ok := s.answers[set.AssignmentID]; ok {
		return models.ErrConflict
	}
	next := a.Clone()
	next.Status = models.StatusAnswered
	at := set.SubmittedAt
	next.AnsweredAt = &at
	s.assignments[a.ID] = next
	s.answers[set.AssignmentID] = set.Clone()
	return nil
}

func (s *MemoryStore) GetAnswerSet(_ context.Context, assignmentID string) (*models.AnswerSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.answers[assignmentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return set.Clone(), nil
}

func (s *MemoryStore) AddAudit(_ context.Context, e models.AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *MemoryStore) ListAudit(_ context.Context, actor string) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.AuditEntry{}
	for _, e := range s.audit {
		if actor == "" || e.Actor == actor {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.usersByEmail[key]; ok {
		return models.ErrConflict
	}
	cp := *u
	s.usersByEmail[key] = &cp
	return nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) Close() error { return nil }
