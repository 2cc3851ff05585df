package service

import (
	"log/slog"
	"strings"
	"time"

	"datadesk/internal/config"
	"datadesk/internal/models"
	"datadesk/internal/validation"
)

// SeedRequests converts the seed section of the YAML config into requests
// for an empty store. Entries without an id, title or columns are skipped.
func SeedRequests(cfg *config.YAMLConfig, now time.Time) []models.Request {
	if cfg == nil {
		return nil
	}

	var out []models.Request
	for _, sc := range cfg.Seed {
		id := strings.TrimSpace(sc.ID)
		columns := validation.NormalizeColumns(sc.Columns)
		if ok, msg := validation.ValidateColumns(columns); id == "" || strings.TrimSpace(sc.Title) == "" || !ok {
			slog.Warn("skipping invalid seed request", "id", id, "error", msg)
			continue
		}

		req := models.Request{
			ID:           id,
			Title:        strings.TrimSpace(sc.Title),
			Format:       sc.Format,
			Departments:  validation.NormalizeDepartments(sc.Departments),
			Emails:       validation.NormalizeEmails(sc.Emails),
			EmailSubject: sc.EmailSubject,
			EmailBody:    sc.EmailBody,
			Instructions: sc.Instructions,
			Columns:      columns,
			InitialRows:  toRows(sc.InitialRows),
			Submissions:  []models.Submission{},
			Status:       models.StatusInProgress,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if req.Format == "" {
			req.Format = "Excel"
		}
		if len(req.Emails) == 0 {
			req.Emails = cfg.EmailsForDepartments(req.Departments)
		}
		if sc.Deadline != "" {
			d, err := models.ParseDate(sc.Deadline)
			if err != nil {
				slog.Warn("ignoring invalid seed deadline", "id", id, "deadline", sc.Deadline)
			} else {
				req.Deadline = &d
			}
		}

		reminders := cfg.Reminders
		if sc.Reminders != nil {
			reminders = *sc.Reminders
		}
		req.Reminders = models.Reminders{Enabled: reminders.Enabled, Frequency: reminders.Frequency}
		if req.Reminders.Frequency == "" {
			req.Reminders.Frequency = models.FrequencyWeekly
		}

		for _, sub := range sc.Submissions {
			req.Submissions = append(req.Submissions, models.Submission{
				Department: strings.TrimSpace(sub.Department),
				Rows:       toRows(sub.Rows),
				Completed:  sub.Completed,
				CreatedAt:  now,
			})
		}
		out = append(out, req)
	}
	return out
}

func toRows(in []map[string]string) []models.Row {
	rows := make([]models.Row, 0, len(in))
	for _, m := range in {
		r := make(models.Row, len(m))
		for k, v := range m {
			r[k] = v
		}
		rows = append(rows, r)
	}
	return rows
}
