// Package sheet converts between a request's normalized storage (initial rows
// plus per-department submissions) and the combined view that is edited as a
// single table.
package sheet

import (
	"time"

	"datadesk/internal/models"
)

// Report describes what FromCombined had to do beyond a plain split.
type Report struct {
	// CreatedDepartments lists tags that had no existing submission and were
	// given a new one, in first-seen order.
	CreatedDepartments []string `json:"createdDepartments,omitempty"`

	// DriftColumns lists row keys that are not part of the request columns.
	DriftColumns []string `json:"driftColumns,omitempty"`
}

// ToCombined flattens a request into tagged rows: non-blank initial rows
// first, then each submission's rows in submission order.
func ToCombined(req *models.Request) []models.TaggedRow {
	rows := make([]models.TaggedRow, 0, len(req.InitialRows))
	for _, r := range req.InitialRows {
		if r.IsBlank() {
			continue
		}
		rows = append(rows, models.TaggedRow{Department: models.TagTemplate, Row: r.Clone()})
	}
	for _, s := range req.Submissions {
		for _, r := range s.Rows {
			rows = append(rows, models.TaggedRow{Department: s.Department, Row: r.Clone()})
		}
	}
	return rows
}

// FromCombined splits tagged rows back into initial rows and submissions.
//
// Existing submissions keep their order, department, completion flag and
// creation time; only their rows are replaced (an empty slice when the view
// holds none for them). Rows tagged with a department that has no submission
// get a new, incomplete submission appended after the existing ones. Rows
// with an empty tag are treated as initial rows. The request is not modified.
func FromCombined(req *models.Request, tagged []models.TaggedRow, now time.Time) ([]models.Row, []models.Submission, Report) {
	var report Report

	initial := make([]models.Row, 0)
	groups := make(map[string][]models.Row)
	var order []string
	drift := make(map[string]bool)

	for _, tr := range tagged {
		row := tr.Row.Clone()
		if row == nil {
			row = models.Row{}
		}
		for _, k := range row.Drift(req.Columns) {
			if !drift[k] {
				drift[k] = true
				report.DriftColumns = append(report.DriftColumns, k)
			}
		}

		if tr.Department == "" || tr.Department == models.TagTemplate {
			initial = append(initial, row)
			continue
		}
		if _, ok := groups[tr.Department]; !ok {
			order = append(order, tr.Department)
		}
		groups[tr.Department] = append(groups[tr.Department], row)
	}

	submissions := make([]models.Submission, 0, len(req.Submissions))
	claimed := make(map[string]bool)
	for _, s := range req.Submissions {
		s.Rows = []models.Row{}
		// A legacy duplicate submission for the same department keeps no rows
		// so that rows are never written twice.
		if !claimed[s.Department] {
			if rows, ok := groups[s.Department]; ok {
				s.Rows = rows
			}
			claimed[s.Department] = true
		}
		submissions = append(submissions, s)
	}

	for _, dept := range order {
		if claimed[dept] {
			continue
		}
		submissions = append(submissions, models.Submission{
			Department: dept,
			Rows:       groups[dept],
			Completed:  false,
			CreatedAt:  now,
		})
		report.CreatedDepartments = append(report.CreatedDepartments, dept)
	}

	return initial, submissions, report
}
