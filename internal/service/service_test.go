package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"datadesk/internal/config"
	"datadesk/internal/email"
	"datadesk/internal/models"
	"datadesk/internal/testutil"
)

type fakeNotifier struct {
	mu       sync.Mutex
	precheck string
	refuse   bool
	messages []email.Message
}

func (f *fakeNotifier) Precheck(to []string) string {
	if f.precheck != "" {
		return f.precheck
	}
	if len(to) == 0 {
		return email.ReasonNoRecipients
	}
	return ""
}

func (f *fakeNotifier) Enqueue(msg email.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false
	}
	f.messages = append(f.messages, msg)
	return true
}

func (f *fakeNotifier) Messages() []email.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.Message(nil), f.messages...)
}

var testNow = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, directory *config.YAMLConfig) (*Service, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	templates := email.NewTemplates(&config.Config{SiteTitle: "Data Desk", BaseURL: "https://data.example.com"})
	svc := New(testutil.FileStore(t), notifier, templates, directory)
	svc.now = func() time.Time { return testNow }
	return svc, notifier
}

func scenarioInput() CreateInput {
	return CreateInput{
		ID:          "REQ-001",
		Title:       "Meter inventory",
		Departments: []string{"X"},
		Emails:      []string{"x@example.com"},
		Columns:     []string{"A", "B"},
		InitialRows: []models.Row{{"A": "1", "B": ""}},
	}
}

func mustCreate(t *testing.T, svc *Service, in CreateInput) *models.Request {
	t.Helper()
	res, err := svc.CreateRequest(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	return res.Request
}

func TestCreateRequest_Defaults(t *testing.T) {
	svc, notifier := newTestService(t, nil)

	res, err := svc.CreateRequest(context.Background(), CreateInput{
		Title:       "  Headcount  ",
		Departments: []string{"Ops", "Ops", " Finance "},
		Emails:      []string{"ops@example.com", "OPS@example.com"},
		Columns:     []string{" Name ", "Count"},
	})
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	req := res.Request

	if len(req.ID) != len("REQ-")+8 || req.ID[:4] != "REQ-" {
		t.Errorf("ID = %q, want REQ- plus 8 characters", req.ID)
	}
	if req.Title != "Headcount" {
		t.Errorf("Title = %q", req.Title)
	}
	if req.Status != models.StatusInProgress {
		t.Errorf("Status = %q", req.Status)
	}
	if req.Format != "Excel" {
		t.Errorf("Format = %q, want Excel", req.Format)
	}
	if got := fmt.Sprint(req.Departments); got != "[Ops Finance]" {
		t.Errorf("Departments = %s", got)
	}
	if got := fmt.Sprint(req.Emails); got != "[ops@example.com]" {
		t.Errorf("Emails = %s", got)
	}
	if got := fmt.Sprint(req.Columns); got != "[Name Count]" {
		t.Errorf("Columns = %s", got)
	}
	if req.InitialRows == nil || req.Submissions == nil {
		t.Error("InitialRows and Submissions should be empty, not nil")
	}
	if req.Reminders.Frequency != models.FrequencyWeekly {
		t.Errorf("Reminders.Frequency = %q", req.Reminders.Frequency)
	}
	if !req.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", req.CreatedAt, testNow)
	}

	if !res.Notification.Queued || res.Notification.Reason != "" {
		t.Errorf("Notification = %+v, want queued", res.Notification)
	}
	msgs := notifier.Messages()
	if len(msgs) != 1 || msgs[0].Kind != "request" || msgs[0].RequestID != req.ID {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestCreateRequest_DuplicateIDIsConflict(t *testing.T) {
	svc, _ := newTestService(t, nil)
	mustCreate(t, svc, scenarioInput())

	_, err := svc.CreateRequest(context.Background(), scenarioInput())
	if !errors.Is(err, ErrConflict) {
		t.Errorf("CreateRequest() error = %v, want ErrConflict", err)
	}
}

func TestCreateRequest_RetriesGeneratedIDCollision(t *testing.T) {
	svc, _ := newTestService(t, nil)
	in := scenarioInput()
	in.ID = "REQ-TAKEN"
	mustCreate(t, svc, in)

	ids := []string{"REQ-TAKEN", "REQ-TAKEN", "REQ-FREE"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	in.ID = ""
	req := mustCreate(t, svc, in)
	if req.ID != "REQ-FREE" {
		t.Errorf("ID = %q, want REQ-FREE", req.ID)
	}
}

func TestCreateRequest_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(in *CreateInput)
		field  string
	}{
		{"missing title", func(in *CreateInput) { in.Title = " " }, "title"},
		{"no columns", func(in *CreateInput) { in.Columns = nil }, "columns"},
		{"duplicate columns", func(in *CreateInput) { in.Columns = []string{"A", " A"} }, "columns"},
		{"reserved department", func(in *CreateInput) { in.Departments = []string{models.TagTemplate} }, "departments"},
		{"bad email", func(in *CreateInput) { in.Emails = []string{"not-an-email"} }, "emails"},
		{"bad frequency", func(in *CreateInput) { in.Reminders = &models.Reminders{Enabled: true, Frequency: "hourly"} }, "reminders.frequency"},
		{"reserved row key", func(in *CreateInput) { in.InitialRows = []models.Row{{models.TagKey: "x"}} }, "initialRows"},
		{"id with slash", func(in *CreateInput) { in.ID = "a/b" }, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, notifier := newTestService(t, nil)
			in := scenarioInput()
			tt.modify(&in)

			_, err := svc.CreateRequest(context.Background(), in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("CreateRequest() error = %v, want ErrValidation", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("field = %v, want %q", err, tt.field)
			}
			if len(notifier.Messages()) != 0 {
				t.Error("no mail should be queued for a rejected request")
			}
		})
	}
}

func TestCreateRequest_NotificationWarnings(t *testing.T) {
	tests := []struct {
		name       string
		precheck   string
		refuse     bool
		emails     []string
		wantQueued bool
		wantReason string
	}{
		{"delivered", "", false, []string{"a@example.com"}, true, ""},
		{"no recipients", "", false, nil, false, email.ReasonNoRecipients},
		{"mail not configured", email.ReasonMissingConfig, false, []string{"a@example.com"}, false, email.ReasonMissingConfig},
		{"queue full", "", true, []string{"a@example.com"}, false, email.ReasonTransportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, notifier := newTestService(t, nil)
			notifier.precheck = tt.precheck
			notifier.refuse = tt.refuse

			in := scenarioInput()
			in.Emails = tt.emails
			res, err := svc.CreateRequest(context.Background(), in)
			if err != nil {
				t.Fatalf("CreateRequest() error = %v; mail problems must not fail creation", err)
			}
			if res.Notification.Queued != tt.wantQueued || res.Notification.Reason != tt.wantReason {
				t.Errorf("Notification = %+v, want queued=%v reason=%q", res.Notification, tt.wantQueued, tt.wantReason)
			}
			if _, err := svc.GetRequest(context.Background(), res.Request.ID); err != nil {
				t.Errorf("request was not stored: %v", err)
			}
		})
	}
}

func TestCreateRequest_NilNotifier(t *testing.T) {
	svc := New(testutil.FileStore(t), nil, nil, nil)
	res, err := svc.CreateRequest(context.Background(), scenarioInput())
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if res.Notification.Reason != email.ReasonMissingConfig {
		t.Errorf("Notification = %+v", res.Notification)
	}
}

func TestCreateRequest_UsesDirectory(t *testing.T) {
	directory := &config.YAMLConfig{
		Departments: []config.DepartmentConfig{
			{Name: "Distribution", Emails: []string{"dist@example.com"}},
			{Name: "Maintenance", Emails: []string{"maint@example.com", "dist@example.com"}},
		},
		Reminders: config.ReminderConfig{Enabled: true, Frequency: models.FrequencyDaily},
	}
	svc, _ := newTestService(t, directory)

	req := mustCreate(t, svc, CreateInput{
		Title:       "Assets",
		Departments: []string{"distribution", "Maintenance"},
		Columns:     []string{"A"},
	})

	if got := fmt.Sprint(req.Emails); got != "[dist@example.com maint@example.com]" {
		t.Errorf("Emails = %s", got)
	}
	if !req.Reminders.Enabled || req.Reminders.Frequency != models.FrequencyDaily {
		t.Errorf("Reminders = %+v, want directory defaults", req.Reminders)
	}
}

func TestScenario_CombinedViewAndColumnRemoval(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	mustCreate(t, svc, scenarioInput())

	if _, err := svc.AddSubmission(ctx, "REQ-001", SubmissionInput{
		Department: "X",
		Rows:       []models.Row{{"A": "2", "B": "y"}},
	}); err != nil {
		t.Fatalf("AddSubmission() error = %v", err)
	}

	view, err := svc.CombinedView(ctx, "REQ-001")
	if err != nil {
		t.Fatalf("CombinedView() error = %v", err)
	}
	want := []models.TaggedRow{
		{Department: models.TagTemplate, Row: models.Row{"A": "1", "B": ""}},
		{Department: "X", Row: models.Row{"A": "2", "B": "y"}},
	}
	if fmt.Sprint(view.Rows) != fmt.Sprint(want) {
		t.Errorf("CombinedView() rows = %v, want %v", view.Rows, want)
	}

	if _, err := svc.UpdateColumns(ctx, "REQ-001", []string{"A"}); err != nil {
		t.Fatalf("UpdateColumns() error = %v", err)
	}

	stored, err := svc.GetRequest(ctx, "REQ-001")
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if fmt.Sprint(stored.Columns) != "[A]" {
		t.Errorf("Columns = %v", stored.Columns)
	}
	if _, ok := stored.InitialRows[0]["B"]; !ok {
		t.Error("initial row lost key B after column removal")
	}
	if stored.Submissions[0].Rows[0]["B"] != "y" {
		t.Errorf("submission row = %v, want B kept", stored.Submissions[0].Rows[0])
	}
}

func TestAddSubmission_MergesExistingDepartment(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	mustCreate(t, svc, scenarioInput())

	first, err := svc.AddSubmission(ctx, "REQ-001", SubmissionInput{Department: "X", Rows: []models.Row{{"A": "1"}}})
	if err != nil {
		t.Fatalf("AddSubmission() error = %v", err)
	}
	createdAt := first.Submissions[0].CreatedAt

	svc.now = func() time.Time { return testNow.Add(time.Hour) }
	req, err := svc.AddSubmission(ctx, "REQ-001", SubmissionInput{Department: " X ", Rows: []models.Row{{"A": "2"}}, Completed: true})
	if err != nil {
		t.Fatalf("AddSubmission() error = %v", err)
	}

	if len(req.Submissions) != 1 {
		t.Fatalf("submissions = %d, want 1", len(req.Submissions))
	}
	sub := req.Submissions[0]
	if len(sub.Rows) != 2 || sub.Rows[1]["A"] != "2" {
		t.Errorf("rows = %v, want both submissions in order", sub.Rows)
	}
	if !sub.Completed {
		t.Error("Completed = false, want true")
	}
	if !sub.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt = %v, want %v", sub.CreatedAt, createdAt)
	}
	if p := req.Progress(); p.Percent != 100 {
		t.Errorf("Progress = %+v", p)
	}
}

func TestAddSubmission_Errors(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	mustCreate(t, svc, scenarioInput())

	if _, err := svc.AddSubmission(ctx, "REQ-404", SubmissionInput{Department: "X"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown request: error = %v, want ErrNotFound", err)
	}
	if _, err := svc.AddSubmission(ctx, "REQ-001", SubmissionInput{Department: ""}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty department: error = %v, want ErrValidation", err)
	}
	if _, err := svc.AddSubmission(ctx, "REQ-001", SubmissionInput{Department: models.TagTemplate}); !errors.Is(err, ErrValidation) {
		t.Errorf("reserved department: error = %v, want ErrValidation", err)
	}
}

func TestAddSubmission_Concurrent(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	mustCreate(t, svc, scenarioInput())

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddSubmission(ctx, "REQ-001", SubmissionInput{
				Department: fmt.Sprintf("Dept %02d", i),
				Rows:       []models.Row{{"A": fmt.Sprint(i)}},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("AddSubmission() error = %v", err)
		}
	}

	req, err := svc.GetRequest(ctx, "REQ-001")
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if len(req.Submissions) != n {
		t.Errorf("submissions = %d, want %d; a concurrent write was lost", len(req.Submissions), n)
	}
	if req.Version != n+1 {
		t.Errorf("Version = %d, want %d", req.Version, n+1)
	}
	if svc.locks.size() != 0 {
		t.Errorf("lock entries = %d, want 0", svc.locks.size())
	}
}

// Two services share one Postgres store without sharing locks, so the
// store's version check is the only thing standing between them.
func TestAddSubmission_ConcurrentAcrossServices(t *testing.T) {
	store := testutil.PostgresStore(t)
	ctx := context.Background()

	a := New(store, nil, nil, nil)
	b := New(store, nil, nil, nil)
	in := scenarioInput()
	in.ID = "TEST-CONCURRENT-" + fmt.Sprint(time.Now().UnixNano())
	if _, err := a.CreateRequest(ctx, in); err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		for j, svc := range []*Service{a, b} {
			wg.Add(1)
			go func(svc *Service, dept string) {
				defer wg.Done()
				_, err := svc.AddSubmission(ctx, in.ID, SubmissionInput{
					Department: dept,
					Rows:       []models.Row{{"A": dept}},
				})
				errs <- err
			}(svc, fmt.Sprintf("Dept %d-%02d", j, i))
		}
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrConflict):
		default:
			t.Errorf("AddSubmission() error = %v, want nil or ErrConflict", err)
		}
	}
	if succeeded == 0 {
		t.Fatal("no submission succeeded")
	}

	req, err := a.GetRequest(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if len(req.Submissions) != succeeded {
		t.Errorf("submissions = %d, want %d", len(req.Submissions), succeeded)
	}
	if req.Version != int64(succeeded+1) {
		t.Errorf("Version = %d, want %d", req.Version, succeeded+1)
	}
}

func TestMarkCompleted_Idempotent(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	mustCreate(t, svc, scenarioInput())

	first, err := svc.MarkCompleted(ctx, "REQ-001")
	if err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	second, err := svc.MarkCompleted(ctx, "REQ-001")
	if err != nil {
		t.Fatalf("second MarkCompleted() error = %v", err)
	}

	if first.Status != models.StatusCompleted || second.Status != models.StatusCompleted {
		t.Errorf("Status = %q / %q", first.Status, second.Status)
	}
	if second.Version != first.Version {
		t.Errorf("second call wrote the record: version %d -> %d", first.Version, second.Version)
	}

	if _, err := svc.MarkCompleted(ctx, "REQ-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkCompleted(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name     string
		complete bool
		status   string
		wantErr  error
		want     string
	}{
		{"in progress is a no-op", false, models.StatusInProgress, nil, models.StatusInProgress},
		{"complete", false, models.StatusCompleted, nil, models.StatusCompleted},
		{"reopen rejected", true, models.StatusInProgress, ErrValidation, ""},
		{"unknown status", false, "Archived", ErrValidation, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, nil)
			ctx := context.Background()
			mustCreate(t, svc, scenarioInput())
			if tt.complete {
				if _, err := svc.MarkCompleted(ctx, "REQ-001"); err != nil {
					t.Fatal(err)
				}
			}

			req, err := svc.UpdateStatus(ctx, "REQ-001", tt.status)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("UpdateStatus() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateStatus() error = %v", err)
			}
			if req.Status != tt.want {
				t.Errorf("Status = %q, want %q", req.Status, tt.want)
			}
		})
	}
}

func TestSaveCombinedView(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	mustCreate(t, svc, scenarioInput())
	if _, err := svc.AddSubmission(ctx, "REQ-001", SubmissionInput{Department: "X", Rows: []models.Row{{"A": "2"}}, Completed: true}); err != nil {
		t.Fatal(err)
	}

	req, report, err := svc.SaveCombinedView(ctx, "REQ-001", []models.TaggedRow{
		{Department: models.TagTemplate, Row: models.Row{"A": "1-edited"}},
		{Department: "X", Row: models.Row{"A": "2"}},
		{Department: "X", Row: models.Row{"A": "3"}},
		{Department: "Y", Row: models.Row{"A": "4", "Extra": "e"}},
	})
	if err != nil {
		t.Fatalf("SaveCombinedView() error = %v", err)
	}

	if len(req.InitialRows) != 1 || req.InitialRows[0]["A"] != "1-edited" {
		t.Errorf("InitialRows = %v", req.InitialRows)
	}
	if len(req.Submissions) != 2 {
		t.Fatalf("submissions = %d, want 2", len(req.Submissions))
	}
	x := req.Submissions[0]
	if x.Department != "X" || !x.Completed || len(x.Rows) != 2 {
		t.Errorf("submission X = %+v", x)
	}
	y := req.Submissions[1]
	if y.Department != "Y" || y.Completed || !y.CreatedAt.Equal(testNow) {
		t.Errorf("submission Y = %+v", y)
	}
	if fmt.Sprint(report.CreatedDepartments) != "[Y]" {
		t.Errorf("CreatedDepartments = %v", report.CreatedDepartments)
	}
	if fmt.Sprint(report.DriftColumns) != "[Extra]" {
		t.Errorf("DriftColumns = %v", report.DriftColumns)
	}

	if _, _, err := svc.SaveCombinedView(ctx, "REQ-404", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveCombinedView(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("partial update keeps other fields and id", func(t *testing.T) {
		svc, _ := newTestService(t, nil)
		mustCreate(t, svc, scenarioInput())

		title := "Renamed"
		req, report, err := svc.UpdateRequest(ctx, "REQ-001", UpdateInput{Title: &title, Columns: []string{"A", "C"}})
		if err != nil {
			t.Fatalf("UpdateRequest() error = %v", err)
		}
		if report != nil {
			t.Error("report should be nil without rows")
		}
		if req.ID != "REQ-001" || req.Title != "Renamed" || fmt.Sprint(req.Columns) != "[A C]" {
			t.Errorf("request = %+v", req)
		}
		if fmt.Sprint(req.Departments) != "[X]" || len(req.InitialRows) != 1 {
			t.Errorf("untouched fields changed: %+v", req)
		}
	})

	t.Run("rows replace data through the combined view", func(t *testing.T) {
		svc, _ := newTestService(t, nil)
		mustCreate(t, svc, scenarioInput())

		req, report, err := svc.UpdateRequest(ctx, "REQ-001", UpdateInput{Rows: []models.TaggedRow{
			{Department: "X", Row: models.Row{"A": "9"}},
		}})
		if err != nil {
			t.Fatalf("UpdateRequest() error = %v", err)
		}
		if len(req.InitialRows) != 0 || len(req.Submissions) != 1 {
			t.Errorf("request = %+v", req)
		}
		if report == nil || fmt.Sprint(report.CreatedDepartments) != "[X]" {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("submissions keep creation time", func(t *testing.T) {
		svc, _ := newTestService(t, nil)
		mustCreate(t, svc, scenarioInput())
		if _, err := svc.AddSubmission(ctx, "REQ-001", SubmissionInput{Department: "X"}); err != nil {
			t.Fatal(err)
		}
		svc.now = func() time.Time { return testNow.Add(24 * time.Hour) }

		req, _, err := svc.UpdateRequest(ctx, "REQ-001", UpdateInput{
			InitialRows: []models.Row{},
			Submissions: []models.Submission{{Department: "X", Rows: []models.Row{{"A": "1"}}}, {Department: "Z"}},
		})
		if err != nil {
			t.Fatalf("UpdateRequest() error = %v", err)
		}
		if !req.Submissions[0].CreatedAt.Equal(testNow) {
			t.Errorf("X CreatedAt = %v, want %v", req.Submissions[0].CreatedAt, testNow)
		}
		if !req.Submissions[1].CreatedAt.Equal(testNow.Add(24 * time.Hour)) {
			t.Errorf("Z CreatedAt = %v", req.Submissions[1].CreatedAt)
		}
		if req.Submissions[1].Rows == nil {
			t.Error("Rows should default to an empty slice")
		}
	})

	t.Run("rows with submissions is rejected", func(t *testing.T) {
		svc, _ := newTestService(t, nil)
		mustCreate(t, svc, scenarioInput())

		_, _, err := svc.UpdateRequest(ctx, "REQ-001", UpdateInput{
			Rows:        []models.TaggedRow{},
			Submissions: []models.Submission{},
		})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("UpdateRequest() error = %v, want ErrValidation", err)
		}
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		svc, _ := newTestService(t, nil)
		created := mustCreate(t, svc, scenarioInput())
		if _, err := svc.UpdateColumns(ctx, "REQ-001", []string{"A"}); err != nil {
			t.Fatal(err)
		}

		title := "late"
		_, _, err := svc.UpdateRequest(ctx, "REQ-001", UpdateInput{Title: &title, Version: created.Version})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("UpdateRequest() error = %v, want ErrConflict", err)
		}
	})

	t.Run("unknown request", func(t *testing.T) {
		svc, _ := newTestService(t, nil)
		_, _, err := svc.UpdateRequest(ctx, "REQ-404", UpdateInput{})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateRequest() error = %v, want ErrNotFound", err)
		}
	})
}

func TestProgressAndStats(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	in := scenarioInput()
	in.Departments = []string{"X", "Y"}
	in.Reminders = &models.Reminders{Enabled: true}
	mustCreate(t, svc, in)
	if _, err := svc.AddSubmission(ctx, "REQ-001", SubmissionInput{Department: "X", Completed: true}); err != nil {
		t.Fatal(err)
	}

	in2 := scenarioInput()
	in2.ID = "REQ-002"
	mustCreate(t, svc, in2)
	if _, err := svc.MarkCompleted(ctx, "REQ-002"); err != nil {
		t.Fatal(err)
	}

	p, err := svc.Progress(ctx, "REQ-001")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if p.Percent != 50 || p.CompletedDepartments != 1 || p.TotalDepartments != 2 {
		t.Errorf("Progress = %+v", p)
	}

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := models.Stats{Total: 2, Pending: 1, Completed: 1, WithReminders: 1}
	if *st != want {
		t.Errorf("Stats = %+v, want %+v", *st, want)
	}
}

func TestSendReminders(t *testing.T) {
	svc, notifier := newTestService(t, nil)
	ctx := context.Background()

	due := scenarioInput()
	due.Reminders = &models.Reminders{Enabled: true, Frequency: models.FrequencyDaily}
	mustCreate(t, svc, due)

	off := scenarioInput()
	off.ID = "REQ-002"
	mustCreate(t, svc, off)

	done := scenarioInput()
	done.ID = "REQ-003"
	done.Reminders = &models.Reminders{Enabled: true, Frequency: models.FrequencyDaily}
	mustCreate(t, svc, done)
	if _, err := svc.MarkCompleted(ctx, "REQ-003"); err != nil {
		t.Fatal(err)
	}

	// Not due yet on the day of creation.
	if n, err := svc.SendReminders(ctx); err != nil || n != 0 {
		t.Fatalf("SendReminders() = %d, %v; want 0", n, err)
	}

	later := testNow.Add(25 * time.Hour)
	svc.now = func() time.Time { return later }
	n, err := svc.SendReminders(ctx)
	if err != nil {
		t.Fatalf("SendReminders() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("SendReminders() = %d, want 1", n)
	}

	var reminders []email.Message
	for _, m := range notifier.Messages() {
		if m.Kind == "reminder" {
			reminders = append(reminders, m)
		}
	}
	if len(reminders) != 1 || reminders[0].RequestID != "REQ-001" {
		t.Errorf("reminders = %+v", reminders)
	}

	req, _ := svc.GetRequest(ctx, "REQ-001")
	if req.Reminders.LastSentAt == nil || !req.Reminders.LastSentAt.Equal(later) {
		t.Errorf("LastSentAt = %v, want %v", req.Reminders.LastSentAt, later)
	}

	// A second run in the same period sends nothing.
	if n, _ := svc.SendReminders(ctx); n != 0 {
		t.Errorf("second SendReminders() = %d, want 0", n)
	}
}

func TestSeedRequests(t *testing.T) {
	cfg := &config.YAMLConfig{
		Departments: []config.DepartmentConfig{{Name: "Distribution", Emails: []string{"dist@example.com"}}},
		Reminders:   config.ReminderConfig{Enabled: true, Frequency: models.FrequencyMonthly},
		Seed: []config.SeedRequestConfig{
			{
				ID:          "REQ-001",
				Title:       "Meter inventory",
				Departments: []string{"Distribution"},
				Deadline:    "2025-02-01",
				Columns:     []string{"A", "B"},
				InitialRows: []map[string]string{{"A": "1", "B": ""}},
				Submissions: []config.SeedSubmission{{Department: "Distribution", Rows: []map[string]string{{"A": "2"}}, Completed: true}},
			},
			{ID: "", Title: "no id", Columns: []string{"A"}},
			{ID: "REQ-003", Title: "no columns"},
		},
	}

	got := SeedRequests(cfg, testNow)
	if len(got) != 1 {
		t.Fatalf("SeedRequests() = %d requests, want 1", len(got))
	}
	req := got[0]
	if req.Format != "Excel" || req.Status != models.StatusInProgress {
		t.Errorf("request = %+v", req)
	}
	if fmt.Sprint(req.Emails) != "[dist@example.com]" {
		t.Errorf("Emails = %v", req.Emails)
	}
	if req.Deadline == nil || req.Deadline.String() != "2025-02-01" {
		t.Errorf("Deadline = %v", req.Deadline)
	}
	if req.Reminders.Frequency != models.FrequencyMonthly || !req.Reminders.Enabled {
		t.Errorf("Reminders = %+v", req.Reminders)
	}
	if len(req.Submissions) != 1 || !req.Submissions[0].Completed || req.Submissions[0].Rows[0]["A"] != "2" {
		t.Errorf("Submissions = %+v", req.Submissions)
	}

	if SeedRequests(nil, testNow) != nil {
		t.Error("SeedRequests(nil) should be nil")
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		release := k.Lock("a")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key did not block")
	case <-time.After(20 * time.Millisecond):
	}

	// A different key is independent.
	k.Lock("b")()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock was not released")
	}

	time.Sleep(10 * time.Millisecond)
	if k.size() != 0 {
		t.Errorf("size() = %d, want 0", k.size())
	}
}
