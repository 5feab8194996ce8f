// Package storetest holds the behaviour every services.Store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/soaringjerry/Checkin/internal/models"
	"github.com/soaringjerry/Checkin/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) services.Store

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s services.Store)
	}{
		{"TemplateInsertGet", testTemplateInsertGet},
		{"TemplateDuplicateID", testTemplateDuplicateID},
		{"TemplateVisibility", testTemplateVisibility},
		{"TemplateUpdate", testTemplateUpdate},
		{"TemplateUpdateAbort", testTemplateUpdateAbort},
		{"AssignmentLifecycle", testAssignmentLifecycle},
		{"FinalizeTwice", testFinalizeTwice},
		{"FinalizeUnknown", testFinalizeUnknown},
		{"ConcurrentFinalize", testConcurrentFinalize},
		{"ConcurrentTemplateUpdates", testConcurrentTemplateUpdates},
		{"Audit", testAudit},
		{"Users", testUsers},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func systemTemplate(id string) *models.Template {
	return &models.Template{
		ID:    id,
		Title: "Daily",
		Questions: []models.Question{
			{ID: "q1", Kind: models.KindRating, Text: "Energy?"},
			{ID: "q2", Kind: models.KindOpen, Text: "Notes?"},
		},
		Owner:     models.SystemOwner(),
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func coachTemplate(id, coachID string) *models.Template {
	t := systemTemplate(id)
	t.Title = "Coach " + coachID
	t.Owner = models.CoachOwner(coachID)
	return t
}

func pendingAssignment(id, templateID string, at time.Time) *models.Assignment {
	return &models.Assignment{
		ID:               id,
		CoachID:          "c1",
		TraineeID:        "t1",
		SourceTemplateID: templateID,
		Title:            "Daily",
		Questions:        []models.Question{{ID: "q1", Kind: models.KindRating, Text: "Energy?"}},
		Status:           models.StatusPending,
		AssignedAt:       at,
	}
}

func answerSet(assignmentID string) *models.AnswerSet {
	return &models.AnswerSet{
		AssignmentID: assignmentID,
		TraineeID:    "t1",
		Answers:      map[string]models.AnswerValue{"q1": models.RatingAnswer(7)},
		SubmittedAt:  base.Add(time.Hour),
	}
}

func testTemplateInsertGet(t *testing.T, s services.Store) {
	ctx := context.Background()
	in := systemTemplate("sys1")
	require.NoError(t, s.InsertTemplate(ctx, in))

	in.Questions[0].Text = "mutated after insert"

	got, err := s.GetTemplate(ctx, "sys1")
	require.NoError(t, err)
	assert.Equal(t, "Daily", got.Title)
	assert.Equal(t, models.SystemOwner(), got.Owner)
	require.Len(t, got.Questions, 2)
	assert.Equal(t, "Energy?", got.Questions[0].Text)
	assert.True(t, base.Equal(got.CreatedAt))

	got.Questions[1].Text = "mutated after read"
	again, err := s.GetTemplate(ctx, "sys1")
	require.NoError(t, err)
	assert.Equal(t, "Notes?", again.Questions[1].Text)

	_, err = s.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func testTemplateDuplicateID(t *testing.T, s services.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertTemplate(ctx, systemTemplate("sys1")))
	assert.ErrorIs(t, s.InsertTemplate(ctx, systemTemplate("sys1")), models.ErrConflict)
}

func testTemplateVisibility(t *testing.T, s services.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertTemplate(ctx, systemTemplate("sys1")))
	require.NoError(t, s.InsertTemplate(ctx, coachTemplate("a1", "coachA")))
	require.NoError(t, s.InsertTemplate(ctx, coachTemplate("b1", "coachB")))
	fork := coachTemplate("a2", "coachA")
	fork.ParentTemplateID = "sys1"
	require.NoError(t, s.InsertTemplate(ctx, fork))

	list, err := s.ListTemplatesVisibleTo(ctx, "coachA")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, tpl := range list {
		ids = append(ids, tpl.ID)
	}
	assert.Equal(t, []string{"sys1", "a1", "a2"}, ids)
	assert.Equal(t, "sys1", list[2].ParentTemplateID)

	list, err = s.ListTemplatesVisibleTo(ctx, "nobody")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sys1", list[0].ID)
}

func testTemplateUpdate(t *testing.T, s services.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertTemplate(ctx, coachTemplate("a1", "coachA")))

	later := base.Add(time.Minute)
	updated, err := s.UpdateTemplate(ctx, "a1", func(tpl *models.Template) error {
		tpl.Title = "Renamed"
		tpl.Questions = append(tpl.Questions, models.Question{ID: "q3", Kind: models.KindOpen, Text: "More?"})
		tpl.UpdatedAt = later
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", updated.ID)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Len(t, updated.Questions, 3)

	got, err := s.GetTemplate(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Len(t, got.Questions, 3)
	assert.True(t, later.Equal(got.UpdatedAt))
	assert.Equal(t, models.CoachOwner("coachA"), got.Owner)

	_, err = s.UpdateTemplate(ctx, "missing", func(*models.Template) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func testTemplateUpdateAbort(t *testing.T, s services.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertTemplate(ctx, coachTemplate("a1", "coachA")))

	boom := fmt.Errorf("boom")
	_, err := s.UpdateTemplate(ctx, "a1", func(tpl *models.Template) error {
		tpl.Title = "should not stick"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetTemplate(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Coach coachA", got.Title)
}

func testAssignmentLifecycle(t *testing.T, s services.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertTemplate(ctx, systemTemplate("sys1")))
	require.NoError(t, s.InsertAssignment(ctx, pendingAssignment("x1", "sys1", base)))
	other := pendingAssignment("x2", "sys1", base.Add(time.Minute))
	other.TraineeID = "t2"
	other.CoachID = "c2"
	require.NoError(t, s.InsertAssignment(ctx, other))
	assert.ErrorIs(t, s.InsertAssignment(ctx, pendingAssignment("x1", "sys1", base)), models.ErrConflict)

	got, err := s.GetAssignment(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.AnsweredAt)

	_, err = s.GetAssignment(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	byTrainee, err := s.ListAssignmentsByTrainee(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, byTrainee, 1)
	assert.Equal(t, "x1", byTrainee[0].ID)

	byCoach, err := s.ListAssignmentsByCoach(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, byCoach, 1)
	assert.Equal(t, "x2", byCoach[0].ID)

	none, err := s.ListAssignmentsByTrainee(ctx, "t9")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.GetAnswerSet(ctx, "x1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.FinalizeAnswers(ctx, answerSet("x1")))
	got, err = s.GetAssignment(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnswered, got.Status)
	require.NotNil(t, got.AnsweredAt)
	assert.True(t, base.Add(time.Hour).Equal(*got.AnsweredAt))

	set, err := s.GetAnswerSet(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, "t1", set.TraineeID)
	require.NotNil(t, set.Answers["q1"].Rating)
	assert.Equal(t, 7, *set.Answers["q1"].Rating)
}

func testFinalizeTwice(t *testing.T, s services.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertTemplate(ctx, systemTemplate("sys1")))
	require.NoError(t, s.InsertAssignment(ctx, pendingAssignment("x1", "sys1", base)))
	require.NoError(t, s.FinalizeAnswers(ctx, answerSet("x1")))

	second := answerSet("x1")
	second.Answers["q1"] = models.RatingAnswer(2)
	assert.ErrorIs(t, s.FinalizeAnswers(ctx, second), models.ErrConflict)

	set, err := s.GetAnswerSet(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, 7, *set.Answers["q1"].Rating)
}

func testFinalizeUnknown(t *testing.T, s services.Store) {
	assert.ErrorIs(t, s.FinalizeAnswers(context.Background(), answerSet("ghost")), models.ErrNotFound)
}

func testConcurrentFinalize(t *testing.T, s services.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertTemplate(ctx, systemTemplate("sys1")))
	require.NoError(t, s.InsertAssignment(ctx, pendingAssignment("x1", "sys1", base)))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set := answerSet("x1")
			set.Answers["q1"] = models.RatingAnswer(i%10 + 1)
			err := s.FinalizeAnswers(ctx, set)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, models.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)
}

func testConcurrentTemplateUpdates(t *testing.T, s services.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertTemplate(ctx, coachTemplate("a1", "coachA")))

	const writers = 6
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateTemplate(ctx, "a1", func(tpl *models.Template) error {
				tpl.Title = fmt.Sprintf("title %d", i)
				tpl.Questions = []models.Question{
					{ID: "q1", Kind: models.KindRating, Text: fmt.Sprintf("energy %d", i)},
					{ID: "q2", Kind: models.KindOpen, Text: fmt.Sprintf("notes %d", i)},
				}
				tpl.UpdatedAt = base.Add(time.Duration(i+1) * time.Second)
				return nil
			})
			if err != nil {
				assert.ErrorIs(t, err, models.ErrConflict)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.GetTemplate(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, got.Questions, 2)
	// a whole write wins; fields from different writers never mix
	var n int
	_, err = fmt.Sscanf(got.Title, "title %d", &n)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("energy %d", n), got.Questions[0].Text)
	assert.Equal(t, fmt.Sprintf("notes %d", n), got.Questions[1].Text)
}

func testAudit(t *testing.T, s services.Store) {
	ctx := context.Background()
	s.AddAudit(ctx, models.AuditEntry{Time: base, Actor: "c1", Action: "create_template", Target: "a1"})
	s.AddAudit(ctx, models.AuditEntry{Time: base.Add(time.Second), Actor: "t1", Action: "submit_answers", Target: "x1", Note: "2"})
	s.AddAudit(ctx, models.AuditEntry{Time: base.Add(2 * time.Second), Actor: "c1", Action: "assign", Target: "x1"})

	all, err := s.ListAudit(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "create_template", all[0].Action)
	assert.Equal(t, "2", all[1].Note)

	mine, err := s.ListAudit(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "assign", mine[1].Action)
}

func testUsers(t *testing.T, s services.Store) {
	ctx := context.Background()
	u := &models.User{ID: "c123", Email: "Coach@Example.com", PassHash: []byte("hash"), Role: models.RoleCoach, CreatedAt: base}
	require.NoError(t, s.AddUser(ctx, u))

	dup := *u
	dup.ID = "c999"
	dup.Email = "coach@example.com"
	assert.ErrorIs(t, s.AddUser(ctx, &dup), models.ErrConflict)

	got, err := s.FindUserByEmail(ctx, "COACH@example.com")
	require.NoError(t, err)
	assert.Equal(t, "c123", got.ID)
	assert.Equal(t, []byte("hash"), got.PassHash)
	assert.Equal(t, models.RoleCoach, got.Role)

	_, err = s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
