package models

import (
	"time"
)

// Request status values.
const (
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
)

// Reminder frequencies.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Request asks a set of departments to fill in a shared table by a deadline.
type Request struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Format       string       `json:"format"`
	Departments  []string     `json:"departments"`
	Emails       []string     `json:"emails"`
	Deadline     *Date        `json:"deadline,omitempty"`
	EmailSubject string       `json:"emailSubject"`
	EmailBody    string       `json:"emailBody"`
	Reminders    Reminders    `json:"reminders"`
	Instructions string       `json:"instructions"`
	Columns      []string     `json:"columns"`
	InitialRows  []Row        `json:"initialRows"`
	Submissions  []Submission `json:"submissions"`
	Status       string       `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`

	// Version is bumped by the store on every replace and checked against
	// the stored record to reject lost updates.
	Version int64 `json:"version"`
}

// Reminders configures the periodic reminder mail for a request.
type Reminders struct {
	Enabled    bool       `json:"enabled"`
	Frequency  string     `json:"frequency"`
	LastSentAt *time.Time `json:"lastSentAt,omitempty"`
}

// IsCompleted reports whether the request has been marked completed.
func (r *Request) IsCompleted() bool {
	return r.Status == StatusCompleted
}

// HasColumn reports whether name is part of the request schema.
func (r *Request) HasColumn(name string) bool {
	for _, c := range r.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// SubmissionIndex returns the index of the first submission for department, or -1.
func (r *Request) SubmissionIndex(department string) int {
	for i := range r.Submissions {
		if r.Submissions[i].Department == department {
			return i
		}
	}
	return -1
}

// Progress returns the completion summary shown on the dashboard.
func (r *Request) Progress() Progress {
	done := 0
	for _, s := range r.Submissions {
		if s.Completed {
			done++
		}
	}
	total := len(r.Departments)
	p := Progress{
		RequestID:            r.ID,
		TotalDepartments:     total,
		CompletedDepartments: done,
		SubmissionCount:      len(r.Submissions),
	}
	if total > 0 {
		p.Percent = int(float64(done)/float64(total)*100 + 0.5)
	}
	return p
}

// Clone returns a deep copy so callers can mutate without aliasing stored data.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Departments = cloneStrings(r.Departments)
	c.Emails = cloneStrings(r.Emails)
	c.Columns = cloneStrings(r.Columns)
	if r.Deadline != nil {
		d := *r.Deadline
		c.Deadline = &d
	}
	if r.Reminders.LastSentAt != nil {
		t := *r.Reminders.LastSentAt
		c.Reminders.LastSentAt = &t
	}
	c.InitialRows = CloneRows(r.InitialRows)
	if r.Submissions != nil {
		c.Submissions = make([]Submission, len(r.Submissions))
		for i, s := range r.Submissions {
			s.Rows = CloneRows(s.Rows)
			c.Submissions[i] = s
		}
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// ComputeStats counts requests for the dashboard.
func ComputeStats(requests []Request) Stats {
	s := Stats{Total: len(requests)}
	for i := range requests {
		if requests[i].IsCompleted() {
			s.Completed++
		} else {
			s.Pending++
		}
		if requests[i].Reminders.Enabled {
			s.WithReminders++
		}
	}
	return s
}

// NextReminderAt returns when the next reminder is due: one frequency period
// after the last reminder, or after creation if none was sent.
func (r *Request) NextReminderAt() time.Time {
	base := r.CreatedAt
	if r.Reminders.LastSentAt != nil {
		base = *r.Reminders.LastSentAt
	}
	return AdvanceByFrequency(base, r.Reminders.Frequency)
}

// ReminderDue reports whether a reminder should be sent at now.
func (r *Request) ReminderDue(now time.Time) bool {
	if r.IsCompleted() || !r.Reminders.Enabled || len(r.Emails) == 0 {
		return false
	}
	return !now.Before(r.NextReminderAt())
}

// AdvanceByFrequency moves t forward by one reminder period. Unknown
// frequencies are treated as weekly.
func AdvanceByFrequency(t time.Time, frequency string) time.Time {
	switch frequency {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 7)
	}
}
