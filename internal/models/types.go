package models

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by stores when a conditional write loses (e.g. the
	// assignment was already answered).
	ErrConflict = errors.New("record changed concurrently")
)

// QuestionKind selects how a question is answered.
type QuestionKind string

const (
	KindRating QuestionKind = "rating" // integer 1..10
	KindOpen   QuestionKind = "open"   // free text
)

const (
	RatingMin = 1
	RatingMax = 10
)

func (k QuestionKind) Valid() bool {
	return k == KindRating || k == KindOpen
}

// Question is a value type. It is copied wherever it appears.
type Question struct {
	ID   string       `json:"id" yaml:"id"`
	Kind QuestionKind `json:"kind" yaml:"kind"`
	Text string       `json:"text" yaml:"text"`
}

// CloneQuestions returns an independent copy of qs.
func CloneQuestions(qs []Question) []Question {
	if qs == nil {
		return nil
	}
	out := make([]Question, len(qs))
	copy(out, qs)
	return out
}

type OwnerKind string

const (
	OwnerSystem OwnerKind = "system"
	OwnerCoach  OwnerKind = "coach"
)

// Owner is either System or Coach(CoachID).
type Owner struct {
	Kind    OwnerKind `json:"kind"`
	CoachID string    `json:"coach_id,omitempty"`
}

func SystemOwner() Owner { return Owner{Kind: OwnerSystem} }

func CoachOwner(coachID string) Owner { return Owner{Kind: OwnerCoach, CoachID: coachID} }

func (o Owner) IsSystem() bool { return o.Kind == OwnerSystem }

// IsCoach reports whether the template belongs to coachID.
func (o Owner) IsCoach(coachID string) bool {
	return o.Kind == OwnerCoach && coachID != "" && o.CoachID == coachID
}

// VisibleTo reports whether coachID may read or assign a template with this owner.
func (o Owner) VisibleTo(coachID string) bool {
	return o.IsSystem() || o.IsCoach(coachID)
}

// Template is a questionnaire definition.
type Template struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Questions        []Question `json:"questions"`
	Owner            Owner      `json:"owner"`
	ParentTemplateID string     `json:"parent_template_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of t.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Questions = CloneQuestions(t.Questions)
	return &cp
}

type AssignmentStatus string

const (
	StatusPending  AssignmentStatus = "pending"
	StatusAnswered AssignmentStatus = "answered"
)

// Assignment is a frozen, trainee-specific copy of a template.
type Assignment struct {
	ID               string           `json:"id"`
	CoachID          string           `json:"coach_id"`
	TraineeID        string           `json:"trainee_id"`
	SourceTemplateID string           `json:"source_template_id"`
	Title            string           `json:"title"`
	Questions        []Question       `json:"questions"`
	Status           AssignmentStatus `json:"status"`
	AssignedAt       time.Time        `json:"assigned_at"`
	AnsweredAt       *time.Time       `json:"answered_at,omitempty"`
}

func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Questions = CloneQuestions(a.Questions)
	if a.AnsweredAt != nil {
		t := *a.AnsweredAt
		cp.AnsweredAt = &t
	}
	return &cp
}

// AnswerValue is tagged: exactly one of Rating or Text is set.
type AnswerValue struct {
	Rating *int    `json:"rating,omitempty"`
	Text   *string `json:"text,omitempty"`
}

func RatingAnswer(v int) AnswerValue { return AnswerValue{Rating: &v} }

func TextAnswer(s string) AnswerValue { return AnswerValue{Text: &s} }

// AnswerSet is a trainee's responses to one assignment.
type AnswerSet struct {
	AssignmentID string                 `json:"assignment_id"`
	TraineeID    string                 `json:"trainee_id"`
	Answers      map[string]AnswerValue `json:"answers"`
	SubmittedAt  time.Time              `json:"submitted_at"`
}

func (s *AnswerSet) Clone() *AnswerSet {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Answers = make(map[string]AnswerValue, len(s.Answers))
	for k, v := range s.Answers {
		var nv AnswerValue
		if v.Rating != nil {
			r := *v.Rating
			nv.Rating = &r
		}
		if v.Text != nil {
			t := *v.Text
			nv.Text = &t
		}
		cp.Answers[k] = nv
	}
	return &cp
}

type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}

type Role string

const (
	RoleCoach   Role = "coach"
	RoleTrainee Role = "trainee"
)

func (r Role) Valid() bool { return r == RoleCoach || r == RoleTrainee }

// User is an account able to sign in as a coach or a trainee.
type User struct {
	ID        string
	Email     string
	PassHash  []byte
	Role      Role
	CreatedAt time.Time
}
