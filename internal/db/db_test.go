package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s := NewStore(database)
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(id string) *PrintJob {
	return &PrintJob{
		ID:          id,
		Kind:        JobKindTemplates,
		PayloadJSON: `[]`,
		DeviceName:  "B21_Pro-1",
		Copies:      2,
		Density:     3,
		MediaType:   1,
		Mode:        1,
		Multiple:    11.81,
	}
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "test.db")

	first, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	first.Close()

	second, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer second.Close()

	var n int
	if err := second.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != len(migrations) {
		t.Errorf("applied migrations = %d, want %d", n, len(migrations))
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := newJob("job-1")
	if err := s.Jobs.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := s.Jobs.GetJobByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJobByID() error = %v", err)
	}
	if got.Status != JobStatusPending || got.Multiple != 11.81 || got.DeviceName != "B21_Pro-1" {
		t.Errorf("job = %+v", got)
	}
	if got.StartedAt != nil || got.ErrorCode != nil {
		t.Errorf("fresh job has started_at/error_code set: %+v", got)
	}

	if ok, err := s.Jobs.MarkProcessing(ctx, "job-1", 3); err != nil || !ok {
		t.Fatalf("MarkProcessing() = %v, %v", ok, err)
	}
	if ok, _ := s.Jobs.MarkProcessing(ctx, "job-1", 3); ok {
		t.Error("processing job claimed twice")
	}
	if err := s.Jobs.UpdateProgress(ctx, "job-1", 2, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Jobs.SetNote(ctx, "job-1", "cancel refused by printer"); err != nil {
		t.Fatal(err)
	}
	code, state := 2, 0
	if err := s.Jobs.MarkFailed(ctx, "job-1", &code, &state, "Out of paper"); err != nil {
		t.Fatal(err)
	}

	got, err = s.Jobs.GetJobByID(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobStatusFailed || got.Pages != 3 || got.CurrentPage != 2 || got.CurrentCopy != 1 {
		t.Errorf("job = %+v", got)
	}
	if got.ErrorCode == nil || *got.ErrorCode != 2 || got.ErrorMessage != "Out of paper" {
		t.Errorf("error fields = %v %q", got.ErrorCode, got.ErrorMessage)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Errorf("timestamps not set: %+v", got)
	}
	if got.Note == "" {
		t.Error("note not stored")
	}

	if ok, err := s.Jobs.MarkCancelled(ctx, "job-1"); err != nil || ok {
		t.Errorf("MarkCancelled() on failed job = %v, %v; want false, nil", ok, err)
	}
}

func TestGetJobByID_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Jobs.GetJobByID(context.Background(), "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetJobByID() error = %v, want sql.ErrNoRows", err)
	}
}

func TestRecoveryQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Jobs.CreateJob(ctx, newJob(id)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Jobs.MarkProcessing(ctx, "a", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Jobs.MarkCompleted(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	n, err := s.Jobs.ResetProcessing(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ResetProcessing() = %d, want 1", n)
	}

	pending, err := s.Jobs.GetPendingJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "a" || pending[1].ID != "c" {
		ids := make([]string, len(pending))
		for i, j := range pending {
			ids[i] = j.ID
		}
		t.Errorf("pending = %v, want [a c]", ids)
	}

	counts, err := s.Jobs.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[JobStatusPending] != 2 || counts[JobStatusCompleted] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestListJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Jobs.CreateJob(ctx, newJob(id)); err != nil {
			t.Fatal(err)
		}
	}
	if ok, err := s.Jobs.MarkCancelled(ctx, "b"); err != nil || !ok {
		t.Fatalf("MarkCancelled() = %v, %v", ok, err)
	}

	all, err := s.Jobs.ListJobs(ctx, JobFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Errorf("ListJobs() returned %d jobs, first %q", len(all), all[0].ID)
	}

	cancelled, err := s.Jobs.ListJobs(ctx, JobFilter{Status: JobStatusCancelled})
	if err != nil {
		t.Fatal(err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != "b" {
		t.Errorf("cancelled = %+v", cancelled)
	}

	page, err := s.Jobs.ListJobs(ctx, JobFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Errorf("page = %+v", page)
	}
}

func TestTemplates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tpl := &LabelTemplate{Name: "shipping", SchemaJSON: `{}`, WidthMM: 50, HeightMM: 30}
	if err := s.Templates.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if tpl.ID == 0 {
		t.Fatal("template id not set")
	}

	if err := s.Templates.CreateTemplate(ctx, &LabelTemplate{Name: "shipping", SchemaJSON: `{}`}); err == nil {
		t.Error("duplicate template name accepted")
	}

	got, err := s.Templates.GetTemplateByID(ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "shipping" || got.WidthMM != 50 {
		t.Errorf("template = %+v", got)
	}

	list, err := s.Templates.ListTemplates(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTemplates() = %d, %v", len(list), err)
	}

	if err := s.Templates.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Templates.DeleteTemplate(ctx, tpl.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("second DeleteTemplate() = %v, want sql.ErrNoRows", err)
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Settings.GetSetting(ctx, "k"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetSetting() missing = %v, want sql.ErrNoRows", err)
	}
	if err := s.Settings.SetSetting(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Settings.SetSetting(ctx, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Settings.GetSetting(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != "v2" {
		t.Errorf("value = %q, want v2", got.Value)
	}
	if err := s.Settings.DeleteSetting(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Settings.GetSetting(ctx, "k"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetSetting() after delete = %v", err)
	}
}

func TestAuditLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, action := range []string{"login", "template_created"} {
		if err := s.Audit.CreateAuditLog(ctx, &AuditLog{Action: action, EntityType: "test"}); err != nil {
			t.Fatal(err)
		}
	}
	logs, err := s.Audit.ListAuditLogs(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 || logs[0].Action != "template_created" {
		t.Errorf("logs = %+v", logs)
	}
}
