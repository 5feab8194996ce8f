package services

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/soaringjerry/Checkin/internal/models"
)

// LongRow is one answer in the long export format.
type LongRow struct {
	AssignmentID string
	TraineeID    string
	TemplateID   string
	QuestionID   string
	Kind         models.QuestionKind
	Value        string
	SubmittedAt  string // RFC3339
}

// ExportLongCSV renders rows into a long-format CSV.
func ExportLongCSV(rows []LongRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write([]string{"assignment_id", "trainee_id", "template_id", "question_id", "kind", "value", "submitted_at"}); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := []string{r.AssignmentID, r.TraineeID, r.TemplateID, r.QuestionID, string(r.Kind), r.Value, r.SubmittedAt}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// WideRow is one answered assignment with its values keyed by question id.
type WideRow struct {
	AssignmentID string
	TraineeID    string
	SubmittedAt  string
	Values       map[string]string
}

// ExportWideCSV renders one row per assignment and one column per question,
// in the given column order. Missing values are left empty.
func ExportWideCSV(columns []string, rows []WideRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := append([]string{"assignment_id", "trainee_id", "submitted_at"}, columns...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, r.AssignmentID, r.TraineeID, r.SubmittedAt)
		for _, qid := range columns {
			rec = append(rec, r.Values[qid])
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportQuestionsCSV lists a template's questions for review next to an export.
func ExportQuestionsCSV(t *models.Template) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write([]string{"question_id", "position", "kind", "text"}); err != nil {
		return nil, err
	}
	for i, q := range t.Questions {
		if err := w.Write([]string{q.ID, strconv.Itoa(i + 1), string(q.Kind), q.Text}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func answerString(v models.AnswerValue) string {
	switch {
	case v.Rating != nil:
		return strconv.Itoa(*v.Rating)
	case v.Text != nil:
		return *v.Text
	}
	return ""
}
