package services

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/soaringjerry/Checkin/internal/models"
)

func readCSV(b []byte) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(string(b)))
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func TestExportLongCSV(t *testing.T) {
	rows := []LongRow{
		{AssignmentID: "a1", TraineeID: "t1", TemplateID: "sys1", QuestionID: "q1", Kind: models.KindRating, Value: "8", SubmittedAt: "2025-01-01T00:00:00Z"},
		{AssignmentID: "a1", TraineeID: "t1", TemplateID: "sys1", QuestionID: "q2", Kind: models.KindOpen, Value: "fine, thanks", SubmittedAt: "2025-01-01T00:00:00Z"},
	}
	b, err := ExportLongCSV(rows)
	if err != nil {
		t.Fatalf("export long: %v", err)
	}
	recs, err := readCSV(b)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(recs) != 1+len(rows) {
		t.Fatalf("want %d rows, got %d", 1+len(rows), len(recs))
	}
	if got := strings.Join(recs[0], ","); got != "assignment_id,trainee_id,template_id,question_id,kind,value,submitted_at" {
		t.Fatalf("bad header: %s", got)
	}
	if recs[2][5] != "fine, thanks" {
		t.Fatalf("text value not preserved: %q", recs[2][5])
	}
}

func TestExportWideCSV(t *testing.T) {
	b, err := ExportWideCSV([]string{"q1", "q2"}, []WideRow{
		{AssignmentID: "a1", TraineeID: "t1", SubmittedAt: "x", Values: map[string]string{"q1": "8", "q2": "ok"}},
		{AssignmentID: "a2", TraineeID: "t2", SubmittedAt: "y", Values: map[string]string{"q1": "3"}},
	})
	if err != nil {
		t.Fatalf("export wide: %v", err)
	}
	recs, err := readCSV(b)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if strings.Join(recs[0], ",") != "assignment_id,trainee_id,submitted_at,q1,q2" {
		t.Fatalf("header mismatch: %v", recs[0])
	}
	if recs[2][3] != "3" || recs[2][4] != "" {
		t.Fatalf("row mismatch: %v", recs[2])
	}
}

func TestExportServiceFormats(t *testing.T) {
	f := newCollectorFixture()
	ctx := context.Background()
	a := f.pending(t)
	if _, err := f.collector.SubmitAnswers(ctx, a.ID, "t1", validAnswers()); err != nil {
		t.Fatal(err)
	}
	// pending assignments are not exported
	if _, err := f.assignments.Assign(ctx, "c1", "t2", "sys1"); err != nil {
		t.Fatal(err)
	}
	svc := NewExportService(f.store)

	long, err := svc.ExportCSV(ctx, ExportParams{CoachID: "c1"})
	if err != nil {
		t.Fatalf("long export: %v", err)
	}
	recs, _ := readCSV(long.Data)
	if long.Filename != "long.csv" || len(recs) != 3 {
		t.Fatalf("long export = %s with %d records", long.Filename, len(recs))
	}
	if recs[1][3] != "q1" || recs[1][5] != "8" || recs[2][5] != "Passing accuracy" {
		t.Fatalf("unexpected long rows %v", recs[1:])
	}

	wide, err := svc.ExportCSV(ctx, ExportParams{CoachID: "c1", TemplateID: "sys1", Format: "wide"})
	if err != nil {
		t.Fatalf("wide export: %v", err)
	}
	recs, _ = readCSV(wide.Data)
	if len(recs) != 2 || strings.Join(recs[0][3:], ",") != "q1,q2" || recs[1][1] != "t1" {
		t.Fatalf("unexpected wide export %v", recs)
	}

	qs, err := svc.ExportCSV(ctx, ExportParams{CoachID: "c1", TemplateID: "sys1", Format: "questions"})
	if err != nil {
		t.Fatalf("questions export: %v", err)
	}
	recs, _ = readCSV(qs.Data)
	if len(recs) != 3 || recs[1][2] != "rating" {
		t.Fatalf("unexpected questions export %v", recs)
	}

	other, err := svc.ExportCSV(ctx, ExportParams{CoachID: "c2"})
	if err != nil {
		t.Fatal(err)
	}
	if recs, _ := readCSV(other.Data); len(recs) != 1 {
		t.Fatalf("other coach sees %d rows", len(recs)-1)
	}
}

func TestExportServiceRejections(t *testing.T) {
	f := newCollectorFixture()
	f.pending(t)
	mine, err := f.templates.CreateCoachTemplate(context.Background(), "c2", "Mine", sys1Questions())
	if err != nil {
		t.Fatal(err)
	}
	svc := NewExportService(f.store)
	cases := []struct {
		name   string
		params ExportParams
		code   ErrorCode
	}{
		{"anonymous", ExportParams{}, ErrorForbidden},
		{"bad format", ExportParams{CoachID: "c1", Format: "xlsx"}, ErrorInvalid},
		{"wide without template", ExportParams{CoachID: "c1", Format: "wide"}, ErrorInvalid},
		{"questions of missing template", ExportParams{CoachID: "c1", Format: "questions", TemplateID: "nope"}, ErrorNotFound},
		{"questions of other coach", ExportParams{CoachID: "c1", Format: "questions", TemplateID: mine.ID}, ErrorForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.ExportCSV(context.Background(), tc.params); codeOf(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}
