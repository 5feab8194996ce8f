package services

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/soaringjerry/Checkin/internal/models"
)

type collectorFixture struct {
	store       *stubStore
	templates   *TemplateService
	engine      *ForkEngine
	assignments *AssignmentService
	collector   *AnswerCollector
}

func newCollectorFixture() *collectorFixture {
	store := newStubStore()
	templates := newTestTemplateService(store)
	collector := NewAnswerCollector(store)
	collector.now = fixedClock()
	return &collectorFixture{
		store:       store,
		templates:   templates,
		engine:      NewForkEngine(templates),
		assignments: newTestAssignmentService(store),
		collector:   collector,
	}
}

// pending seeds sys1 and assigns it to t1.
func (f *collectorFixture) pending(t *testing.T) *models.Assignment {
	t.Helper()
	seedSystem(f.store, "sys1", sys1Questions()...)
	a, err := f.assignments.Assign(context.Background(), "c1", "t1", "sys1")
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func (f *collectorFixture) status(t *testing.T, id string) models.AssignmentStatus {
	t.Helper()
	a, err := f.store.GetAssignment(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return a.Status
}

func validAnswers() map[string]models.AnswerValue {
	return map[string]models.AnswerValue{
		"q1": models.RatingAnswer(8),
		"q2": models.TextAnswer("Passing accuracy"),
	}
}

func TestSubmitAnswersAnswersOnce(t *testing.T) {
	f := newCollectorFixture()
	a := f.pending(t)
	ctx := context.Background()

	set, err := f.collector.SubmitAnswers(ctx, a.ID, "t1", validAnswers())
	if err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}
	if set.AssignmentID != a.ID || set.TraineeID != "t1" || *set.Answers["q1"].Rating != 8 {
		t.Fatalf("unexpected answer set %+v", set)
	}
	stored, _ := f.store.GetAssignment(ctx, a.ID)
	if stored.Status != models.StatusAnswered || stored.AnsweredAt == nil {
		t.Fatalf("assignment not answered: %+v", stored)
	}

	again := validAnswers()
	again["q1"] = models.RatingAnswer(3)
	if _, err := f.collector.SubmitAnswers(ctx, a.ID, "t1", again); codeOf(err) != ErrorConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	kept, _ := f.store.GetAnswerSet(ctx, a.ID)
	if *kept.Answers["q1"].Rating != 8 {
		t.Fatalf("second submit replaced answers: %+v", kept.Answers)
	}
	if got := f.store.auditActions(); !reflect.DeepEqual(got, []string{"assign", "submit_answers"}) {
		t.Fatalf("audit = %v", got)
	}
}

func TestSubmitAnswersValidation(t *testing.T) {
	cases := []struct {
		name    string
		answers map[string]models.AnswerValue
		field   string
	}{
		{"rating zero", map[string]models.AnswerValue{"q1": models.RatingAnswer(0), "q2": models.TextAnswer("ok")}, "q1"},
		{"rating eleven", map[string]models.AnswerValue{"q1": models.RatingAnswer(11), "q2": models.TextAnswer("ok")}, "q1"},
		{"text for rating", map[string]models.AnswerValue{"q1": models.TextAnswer("8"), "q2": models.TextAnswer("ok")}, "q1"},
		{"rating for open", map[string]models.AnswerValue{"q1": models.RatingAnswer(5), "q2": models.RatingAnswer(5)}, "q2"},
		{"blank text", map[string]models.AnswerValue{"q1": models.RatingAnswer(5), "q2": models.TextAnswer("   ")}, "q2"},
		{"missing answer", map[string]models.AnswerValue{"q2": models.TextAnswer("ok")}, "q1"},
		{"stray answer", map[string]models.AnswerValue{"q1": models.RatingAnswer(5), "q2": models.TextAnswer("ok"), "q9": models.RatingAnswer(1)}, "q9"},
		{"both tags", map[string]models.AnswerValue{"q1": {Rating: models.RatingAnswer(5).Rating, Text: models.TextAnswer("x").Text}, "q2": models.TextAnswer("ok")}, "q1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newCollectorFixture()
			a := f.pending(t)
			_, err := f.collector.SubmitAnswers(context.Background(), a.ID, "t1", tc.answers)
			se, ok := AsServiceError(err)
			if !ok || se.Code != ErrorInvalid || se.Field != tc.field {
				t.Fatalf("expected invalid on %s, got %v", tc.field, err)
			}
			if st := f.status(t, a.ID); st != models.StatusPending {
				t.Fatalf("status = %s after rejected submit", st)
			}
		})
	}
}

func TestSubmitAnswersAccessChecks(t *testing.T) {
	f := newCollectorFixture()
	a := f.pending(t)
	ctx := context.Background()

	if _, err := f.collector.SubmitAnswers(ctx, "nope", "t1", validAnswers()); codeOf(err) != ErrorNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
	if _, err := f.collector.SubmitAnswers(ctx, a.ID, "t2", validAnswers()); codeOf(err) != ErrorForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	// ownership is checked before the answers are looked at
	if _, err := f.collector.SubmitAnswers(ctx, a.ID, "t2", nil); codeOf(err) != ErrorForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if st := f.status(t, a.ID); st != models.StatusPending {
		t.Fatalf("status = %s", st)
	}
}

func TestSubmitAnswersStoreConflict(t *testing.T) {
	f := newCollectorFixture()
	a := f.pending(t)
	f.store.finalizeErr = models.ErrConflict
	if _, err := f.collector.SubmitAnswers(context.Background(), a.ID, "t1", validAnswers()); codeOf(err) != ErrorConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	boom := errors.New("disk full")
	f.store.finalizeErr = boom
	if _, err := f.collector.SubmitAnswers(context.Background(), a.ID, "t1", validAnswers()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestSubmitAnswersConcurrent(t *testing.T) {
	f := newCollectorFixture()
	a := f.pending(t)

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.collector.SubmitAnswers(context.Background(), a.ID, "t1", validAnswers())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case codeOf(err) == ErrorConflict:
				conflicts++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || conflicts != n-1 {
		t.Fatalf("ok=%d conflicts=%d", ok, conflicts)
	}
}

func TestSubmitRawAnswers(t *testing.T) {
	f := newCollectorFixture()
	a := f.pending(t)
	raw := map[string]json.RawMessage{
		"q1": json.RawMessage(`{"rating": 8.0}`),
		"q2": json.RawMessage(`{"text": "  Passing accuracy "}`),
	}
	set, err := f.collector.SubmitRawAnswers(context.Background(), a.ID, "t1", raw)
	if err != nil {
		t.Fatalf("SubmitRawAnswers: %v", err)
	}
	if *set.Answers["q1"].Rating != 8 || *set.Answers["q2"].Text != "Passing accuracy" {
		t.Fatalf("unexpected answers %+v", set.Answers)
	}
}

func TestDecodeAnswers(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		rating int
		text   string
		err    bool
	}{
		{"integer", `{"rating": 7}`, 7, "", false},
		{"integral float", `{"rating": 10.0}`, 10, "", false},
		{"exponent form", `{"rating": 1e1}`, 10, "", false},
		{"fractional exponent", `{"rating": 75e-1}`, 0, "", true},
		{"fraction", `{"rating": 7.5}`, 0, "", true},
		{"quoted number", `{"rating": "7"}`, 0, "", true},
		{"text", `{"text": "fine"}`, 0, "fine", false},
		{"text not string", `{"text": 3}`, 0, "", true},
		{"both", `{"rating": 3, "text": "x"}`, 0, "", true},
		{"neither", `{}`, 0, "", true},
		{"bare number", `7`, 0, "", true},
		{"null rating", `{"rating": null}`, 0, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := DecodeAnswers(map[string]json.RawMessage{"q1": json.RawMessage(tc.raw)})
			if tc.err {
				se, ok := AsServiceError(err)
				if !ok || se.Field != "q1" {
					t.Fatalf("expected field error on q1, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeAnswers: %v", err)
			}
			v := out["q1"]
			if tc.text != "" {
				if v.Text == nil || *v.Text != tc.text || v.Rating != nil {
					t.Fatalf("unexpected value %+v", v)
				}
				return
			}
			if v.Rating == nil || *v.Rating != tc.rating || v.Text != nil {
				t.Fatalf("unexpected value %+v", v)
			}
		})
	}
}

func TestGetResults(t *testing.T) {
	f := newCollectorFixture()
	a := f.pending(t)
	ctx := context.Background()

	if _, err := f.collector.GetResults(ctx, a.ID, "c1"); codeOf(err) != ErrorNotFound {
		t.Fatalf("expected not_found before answering, got %v", err)
	}
	if _, err := f.collector.SubmitAnswers(ctx, a.ID, "t1", validAnswers()); err != nil {
		t.Fatal(err)
	}
	for _, viewer := range []string{"c1", "t1"} {
		res, err := f.collector.GetResults(ctx, a.ID, viewer)
		if err != nil {
			t.Fatalf("%s: %v", viewer, err)
		}
		if res.Assignment.Status != models.StatusAnswered || *res.Answers.Answers["q2"].Text != "Passing accuracy" {
			t.Fatalf("unexpected results %+v", res)
		}
	}
	if _, err := f.collector.GetResults(ctx, a.ID, "c2"); codeOf(err) != ErrorForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

// The fork, assign, edit, answer walk-through from the product brief.
func TestCheckinScenario(t *testing.T) {
	f := newCollectorFixture()
	ctx := context.Background()
	seedSystem(f.store, "sys1", sys1Questions()...)

	f1, err := f.engine.ResolveForEdit(ctx, "sys1", "c1", TemplatePatch{Questions: []QuestionPatch{
		{ID: "q1", Text: "Energy level today?"},
		{ID: "q2"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if f1.ParentTemplateID != "sys1" || f1.Owner != models.CoachOwner("c1") {
		t.Fatalf("unexpected fork %+v", f1)
	}

	a1, err := f.assignments.Assign(ctx, "c1", "t1", f1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a1.Status != models.StatusPending || !reflect.DeepEqual(a1.Questions, f1.Questions) {
		t.Fatalf("unexpected assignment %+v", a1)
	}

	edited, err := f.engine.ResolveForEdit(ctx, f1.ID, "c1", TemplatePatch{Questions: []QuestionPatch{
		{ID: "q1", Text: "How energetic do you feel?"},
		{ID: "q2"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if edited.ID != f1.ID {
		t.Fatalf("own template was forked: %s", edited.ID)
	}
	a1, _ = f.assignments.GetAssignment(ctx, a1.ID)
	if a1.Questions[0].Text != "Energy level today?" {
		t.Fatalf("snapshot changed: %q", a1.Questions[0].Text)
	}

	answers := map[string]json.RawMessage{
		"q1": json.RawMessage(`{"rating": 8}`),
		"q2": json.RawMessage(`{"text": "Passing accuracy"}`),
	}
	if _, err := f.collector.SubmitRawAnswers(ctx, a1.ID, "t1", answers); err != nil {
		t.Fatal(err)
	}
	if st := f.status(t, a1.ID); st != models.StatusAnswered {
		t.Fatalf("status = %s", st)
	}
	if _, err := f.collector.SubmitRawAnswers(ctx, a1.ID, "t1", answers); codeOf(err) != ErrorConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	sys, _ := f.store.GetTemplate(ctx, "sys1")
	if !reflect.DeepEqual(sys.Questions, sys1Questions()) {
		t.Fatalf("system template changed: %+v", sys.Questions)
	}
}
