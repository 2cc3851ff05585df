package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"datadesk/internal/db"
	"datadesk/internal/email"
	"datadesk/internal/models"
	"datadesk/internal/sheet"
	"datadesk/internal/validation"
)

const maxIDAttempts = 5

// CreateInput holds the fields accepted when creating a request. ID is
// optional; the service assigns one when it is empty.
type CreateInput struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Format       string            `json:"format"`
	Departments  []string          `json:"departments"`
	Emails       []string          `json:"emails"`
	Deadline     *models.Date      `json:"deadline"`
	EmailSubject string            `json:"emailSubject"`
	EmailBody    string            `json:"emailBody"`
	Reminders    *models.Reminders `json:"reminders"`
	Instructions string            `json:"instructions"`
	Columns      []string          `json:"columns"`
	InitialRows  []models.Row      `json:"initialRows"`
}

// CreateResult is the stored request plus the state of its notification.
type CreateResult struct {
	Request      *models.Request
	Notification models.NotificationStatus
}

// SubmissionInput is one department's submission.
type SubmissionInput struct {
	Department string       `json:"department"`
	Rows       []models.Row `json:"rows"`
	Completed  bool         `json:"completed"`
}

// UpdateInput is a partial update. Nil pointers and nil slices leave the
// field unchanged. Rows carries the combined view and cannot be combined
// with InitialRows or Submissions. A non-zero Version must match the stored
// version.
type UpdateInput struct {
	Title        *string             `json:"title"`
	Format       *string             `json:"format"`
	Departments  []string            `json:"departments"`
	Emails       []string            `json:"emails"`
	Deadline     *models.Date        `json:"deadline"`
	EmailSubject *string             `json:"emailSubject"`
	EmailBody    *string             `json:"emailBody"`
	Reminders    *models.Reminders   `json:"reminders"`
	Instructions *string             `json:"instructions"`
	Columns      []string            `json:"columns"`
	InitialRows  []models.Row        `json:"initialRows"`
	Submissions  []models.Submission `json:"submissions"`
	Rows         []models.TaggedRow  `json:"rows"`
	Status       *string             `json:"status"`
	Version      int64               `json:"version"`
}

// CreateRequest validates and stores a new request, then queues the request
// mail. Mail problems never fail the call; they are reported in the
// result's Notification.
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (*CreateResult, error) {
	req, err := s.buildRequest(in)
	if err != nil {
		return nil, err
	}

	created, err := s.insert(ctx, req, strings.TrimSpace(in.ID))
	if err != nil {
		return nil, err
	}

	return &CreateResult{
		Request:      created,
		Notification: s.notify(s.templates.RequestCreated(created)),
	}, nil
}

func (s *Service) buildRequest(in CreateInput) (*models.Request, error) {
	title := strings.TrimSpace(in.Title)
	if ok, msg := validation.ValidateTitle(title); !ok {
		return nil, invalid("title", msg)
	}

	columns := validation.NormalizeColumns(in.Columns)
	if ok, msg := validation.ValidateColumns(columns); !ok {
		return nil, invalid("columns", msg)
	}

	departments := validation.NormalizeDepartments(in.Departments)
	for _, d := range departments {
		if ok, msg := validation.ValidateDepartment(d); !ok {
			return nil, invalid("departments", msg)
		}
	}

	emails := in.Emails
	if len(emails) == 0 {
		emails = s.directory.EmailsForDepartments(departments)
	}
	emails, err := normalizeEmails(emails)
	if err != nil {
		return nil, err
	}

	reminders, err := s.reminderSettings(in.Reminders)
	if err != nil {
		return nil, err
	}

	initial := models.CloneRows(in.InitialRows)
	if initial == nil {
		initial = []models.Row{}
	}
	if ok, msg := validation.ValidateRows(initial); !ok {
		return nil, invalid("initialRows", msg)
	}

	format := strings.TrimSpace(in.Format)
	if format == "" {
		format = "Excel"
	}

	now := s.now()
	return &models.Request{
		Title:        title,
		Format:       format,
		Departments:  departments,
		Emails:       emails,
		Deadline:     in.Deadline,
		EmailSubject: in.EmailSubject,
		EmailBody:    in.EmailBody,
		Reminders:    reminders,
		Instructions: in.Instructions,
		Columns:      columns,
		InitialRows:  initial,
		Submissions:  []models.Submission{},
		Status:       models.StatusInProgress,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// insert stores req under id, or under a generated id when id is empty.
func (s *Service) insert(ctx context.Context, req *models.Request, id string) (*models.Request, error) {
	if id != "" {
		if strings.ContainsAny(id, "/?# \t") {
			return nil, invalid("id", "id must not contain spaces or URL delimiters")
		}
		req.ID = id
		created, err := s.store.InsertRequest(ctx, req)
		if err != nil {
			return nil, s.storeError(id, err)
		}
		return created, nil
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		req.ID = s.newID()
		created, err := s.store.InsertRequest(ctx, req)
		if errors.Is(err, db.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return nil, s.storeError(req.ID, err)
		}
		return created, nil
	}
	return nil, fmt.Errorf("%w: could not allocate a unique request id", ErrConflict)
}

func normalizeEmails(in []string) ([]string, error) {
	emails := validation.NormalizeEmails(in)
	for _, e := range emails {
		if ok, msg := validation.ValidateEmail(e); !ok {
			return nil, invalid("emails", msg)
		}
	}
	return emails, nil
}

func (s *Service) reminderSettings(in *models.Reminders) (models.Reminders, error) {
	var r models.Reminders
	switch {
	case in != nil:
		r = models.Reminders{Enabled: in.Enabled, Frequency: in.Frequency}
	case s.directory != nil:
		r = models.Reminders{Enabled: s.directory.Reminders.Enabled, Frequency: s.directory.Reminders.Frequency}
	}
	if r.Frequency == "" {
		r.Frequency = models.FrequencyWeekly
	}
	if ok, msg := validation.ValidateFrequency(r.Frequency); !ok {
		return r, invalid("reminders.frequency", msg)
	}
	return r, nil
}

// notify queues msg and reports what is already known about its fate.
func (s *Service) notify(msg email.Message) models.NotificationStatus {
	if s.notifier == nil {
		return models.NotificationStatus{Reason: email.ReasonMissingConfig}
	}
	reason := s.notifier.Precheck(msg.To)
	// Enqueued even when the precheck fails so the outcome is logged and counted.
	queued := s.notifier.Enqueue(msg)
	if reason == "" && !queued {
		reason = email.ReasonTransportError
	}
	return models.NotificationStatus{Queued: queued && reason == "", Reason: reason}
}

// GetRequest returns the request with the given id.
func (s *Service) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, s.storeError(id, err)
	}
	return req, nil
}

// ListRequests returns every request in store order.
func (s *Service) ListRequests(ctx context.Context) ([]models.Request, error) {
	return s.store.ListRequests(ctx)
}

// AddSubmission records rows from a department.
//
// A repeat submission does not add a second entry. A department that already
// has a submission gets the new rows appended to it and its completed flag
// replaced, and the submission keeps its original createdAt. Callers that
// post the same rows twice therefore get them twice in one submission, not
// two submissions. Each department has at most one submission, which the
// combined sheet relies on when it splits rows back by department.
func (s *Service) AddSubmission(ctx context.Context, id string, in SubmissionInput) (*models.Request, error) {
	department := strings.TrimSpace(in.Department)
	if ok, msg := validation.ValidateDepartment(department); !ok {
		return nil, invalid("department", msg)
	}
	if ok, msg := validation.ValidateRows(in.Rows); !ok {
		return nil, invalid("rows", msg)
	}

	return s.mutate(ctx, id, func(req *models.Request) error {
		if !contains(req.Departments, department) {
			slog.Warn("submission from department not on request",
				"request_id", id,
				"department", department,
			)
		}

		rows := models.CloneRows(in.Rows)
		if rows == nil {
			rows = []models.Row{}
		}

		if i := req.SubmissionIndex(department); i >= 0 {
			req.Submissions[i].Rows = append(req.Submissions[i].Rows, rows...)
			req.Submissions[i].Completed = in.Completed
			return nil
		}

		req.Submissions = append(req.Submissions, models.Submission{
			Department: department,
			Rows:       rows,
			Completed:  in.Completed,
			CreatedAt:  s.now(),
		})
		return nil
	})
}

// MarkCompleted closes the request. Completing a completed request succeeds
// without writing.
func (s *Service) MarkCompleted(ctx context.Context, id string) (*models.Request, error) {
	return s.UpdateStatus(ctx, id, models.StatusCompleted)
}

// UpdateStatus applies a status change. Only In Progress to Completed is
// allowed; repeating the current status is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*models.Request, error) {
	if err := checkStatus(status); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(req *models.Request) error {
		return applyStatus(req, status)
	})
}

func checkStatus(status string) error {
	switch status {
	case models.StatusInProgress, models.StatusCompleted:
		return nil
	}
	return invalid("status", fmt.Sprintf("unsupported status %q", status))
}

func applyStatus(req *models.Request, status string) error {
	if req.Status == status {
		return errNoChange
	}
	if status == models.StatusInProgress {
		return invalid("status", "a completed request cannot be reopened")
	}
	req.Status = status
	return nil
}

// UpdateColumns replaces the schema. Stored rows are not touched, so values
// under removed columns stay in the data.
func (s *Service) UpdateColumns(ctx context.Context, id string, columns []string) (*models.Request, error) {
	columns = validation.NormalizeColumns(columns)
	if ok, msg := validation.ValidateColumns(columns); !ok {
		return nil, invalid("columns", msg)
	}
	return s.mutate(ctx, id, func(req *models.Request) error {
		req.Columns = columns
		return nil
	})
}

// CombinedView returns the request's rows as one tagged table.
func (s *Service) CombinedView(ctx context.Context, id string) (*models.SheetResponse, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.SheetResponse{
		RequestID: req.ID,
		Columns:   req.Columns,
		Rows:      sheet.ToCombined(req),
	}, nil
}

// SaveCombinedView splits an edited combined view back into initial rows
// and submissions.
func (s *Service) SaveCombinedView(ctx context.Context, id string, rows []models.TaggedRow) (*models.Request, sheet.Report, error) {
	if err := validateTagged(rows); err != nil {
		return nil, sheet.Report{}, err
	}

	var report sheet.Report
	req, err := s.mutate(ctx, id, func(req *models.Request) error {
		report = applyCombined(req, rows, s.now())
		return nil
	})
	if err != nil {
		return nil, sheet.Report{}, err
	}
	return req, report, nil
}

func validateTagged(rows []models.TaggedRow) error {
	plain := make([]models.Row, len(rows))
	for i := range rows {
		plain[i] = rows[i].Row
	}
	if ok, msg := validation.ValidateRows(plain); !ok {
		return invalid("rows", msg)
	}
	return nil
}

func applyCombined(req *models.Request, rows []models.TaggedRow, now time.Time) sheet.Report {
	initial, submissions, report := sheet.FromCombined(req, rows, now)
	req.InitialRows = initial
	req.Submissions = submissions
	if len(report.CreatedDepartments) > 0 {
		slog.Info("combined view created submissions",
			"request_id", req.ID,
			"departments", report.CreatedDepartments,
		)
	}
	return report
}

// UpdateRequest applies a partial update. The id is always the one given,
// whatever the stored record or payload holds. The returned report is
// non-nil only when Rows was supplied.
func (s *Service) UpdateRequest(ctx context.Context, id string, in UpdateInput) (*models.Request, *sheet.Report, error) {
	if in.Rows != nil && (in.InitialRows != nil || in.Submissions != nil) {
		return nil, nil, invalid("rows", "rows cannot be combined with initialRows or submissions")
	}
	if err := validateUpdate(&in); err != nil {
		return nil, nil, err
	}

	var report *sheet.Report
	req, err := s.mutate(ctx, id, func(req *models.Request) error {
		if in.Version != 0 && in.Version != req.Version {
			return fmt.Errorf("%w: request %s is at version %d, not %d", ErrConflict, id, req.Version, in.Version)
		}
		if err := s.applyUpdate(req, &in); err != nil {
			return err
		}
		if in.Rows != nil {
			r := applyCombined(req, in.Rows, s.now())
			report = &r
		}
		req.ID = id
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return req, report, nil
}

// validateUpdate checks and normalizes the fields that do not depend on
// the stored record.
func validateUpdate(in *UpdateInput) error {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if ok, msg := validation.ValidateTitle(t); !ok {
			return invalid("title", msg)
		}
		in.Title = &t
	}
	if in.Columns != nil {
		in.Columns = validation.NormalizeColumns(in.Columns)
		if ok, msg := validation.ValidateColumns(in.Columns); !ok {
			return invalid("columns", msg)
		}
	}
	if in.Departments != nil {
		in.Departments = validation.NormalizeDepartments(in.Departments)
		for _, d := range in.Departments {
			if ok, msg := validation.ValidateDepartment(d); !ok {
				return invalid("departments", msg)
			}
		}
	}
	if in.Emails != nil {
		emails, err := normalizeEmails(in.Emails)
		if err != nil {
			return err
		}
		in.Emails = emails
	}
	if in.Reminders != nil {
		if in.Reminders.Frequency == "" {
			in.Reminders.Frequency = models.FrequencyWeekly
		}
		if ok, msg := validation.ValidateFrequency(in.Reminders.Frequency); !ok {
			return invalid("reminders.frequency", msg)
		}
	}
	if in.Status != nil {
		if err := checkStatus(*in.Status); err != nil {
			return err
		}
	}
	if in.InitialRows != nil {
		if ok, msg := validation.ValidateRows(in.InitialRows); !ok {
			return invalid("initialRows", msg)
		}
	}
	for _, sub := range in.Submissions {
		if ok, msg := validation.ValidateDepartment(sub.Department); !ok {
			return invalid("submissions", msg)
		}
		if ok, msg := validation.ValidateRows(sub.Rows); !ok {
			return invalid("submissions", msg)
		}
	}
	if in.Rows != nil {
		return validateTagged(in.Rows)
	}
	return nil
}

func (s *Service) applyUpdate(req *models.Request, in *UpdateInput) error {
	if in.Status != nil {
		if err := applyStatus(req, *in.Status); err != nil && !errors.Is(err, errNoChange) {
			return err
		}
	}
	if in.Title != nil {
		req.Title = *in.Title
	}
	if in.Format != nil {
		req.Format = *in.Format
	}
	if in.Departments != nil {
		req.Departments = in.Departments
	}
	if in.Emails != nil {
		req.Emails = in.Emails
	}
	if in.Deadline != nil {
		req.Deadline = in.Deadline
	}
	if in.EmailSubject != nil {
		req.EmailSubject = *in.EmailSubject
	}
	if in.EmailBody != nil {
		req.EmailBody = *in.EmailBody
	}
	if in.Reminders != nil {
		req.Reminders.Enabled = in.Reminders.Enabled
		req.Reminders.Frequency = in.Reminders.Frequency
	}
	if in.Instructions != nil {
		req.Instructions = *in.Instructions
	}
	if in.Columns != nil {
		req.Columns = in.Columns
	}
	if in.InitialRows != nil {
		req.InitialRows = models.CloneRows(in.InitialRows)
	}
	if in.Submissions != nil {
		subs := make([]models.Submission, len(in.Submissions))
		for i, sub := range in.Submissions {
			sub.Department = strings.TrimSpace(sub.Department)
			sub.Rows = models.CloneRows(sub.Rows)
			if sub.Rows == nil {
				sub.Rows = []models.Row{}
			}
			if prev := req.SubmissionIndex(sub.Department); prev >= 0 && sub.CreatedAt.IsZero() {
				sub.CreatedAt = req.Submissions[prev].CreatedAt
			}
			if sub.CreatedAt.IsZero() {
				sub.CreatedAt = s.now()
			}
			subs[i] = sub
		}
		req.Submissions = subs
	}
	return nil
}

// Progress returns the completion summary of one request.
func (s *Service) Progress(ctx context.Context, id string) (*models.Progress, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	p := req.Progress()
	return &p, nil
}

// Stats summarizes all requests for the dashboard.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	requests, err := s.store.ListRequests(ctx)
	if err != nil {
		return nil, err
	}
	st := models.ComputeStats(requests)
	return &st, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
