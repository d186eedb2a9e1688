package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type JobOperations struct {
	db *sql.DB
}

func NewJobOperations(db *sql.DB) *JobOperations {
	return &JobOperations{db: db}
}

func (o *JobOperations) CreateJob(ctx context.Context, j *PrintJob) error {
	_, err := o.db.ExecContext(ctx, InsertJob,
		j.ID, j.Kind, j.PayloadJSON, j.DeviceName, j.Pages, j.Copies,
		j.Density, j.MediaType, j.Mode, j.Multiple, j.SubmittedBy)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	j.Status = JobStatusPending
	return nil
}

func (o *JobOperations) GetJobByID(ctx context.Context, id string) (*PrintJob, error) {
	j, err := scanJob(o.db.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) GetPendingJobs(ctx context.Context) ([]*PrintJob, error) {
	rows, err := o.db.QueryContext(ctx, GetPendingJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (o *JobOperations) ListJobs(ctx context.Context, filter JobFilter) ([]*PrintJob, error) {
	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}

	var rows *sql.Rows
	var err error
	if filter.Status != "" {
		rows, err = o.db.QueryContext(ctx, ListJobsByStatus, filter.Status, limit, filter.Offset)
	} else {
		rows, err = o.db.QueryContext(ctx, ListJobs, limit, filter.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// MarkProcessing claims a pending job for printing. It reports false when
// the job is no longer pending.
func (o *JobOperations) MarkProcessing(ctx context.Context, id string, pages int) (bool, error) {
	result, err := o.db.ExecContext(ctx, UpdateJobProcessing, pages, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark job processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (o *JobOperations) UpdateProgress(ctx context.Context, id string, page, copy int) error {
	if _, err := o.db.ExecContext(ctx, UpdateJobProgress, page, copy, id); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func (o *JobOperations) MarkCompleted(ctx context.Context, id string) error {
	if _, err := o.db.ExecContext(ctx, UpdateJobCompleted, id); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// MarkFailed records a failure. code and state are nil when the failure
// did not come from the device.
func (o *JobOperations) MarkFailed(ctx context.Context, id string, code, state *int, message string) error {
	if _, err := o.db.ExecContext(ctx, UpdateJobFailed, code, state, message, id); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// MarkCancelled cancels a job that has not finished yet. It reports
// false when the job was already in a terminal state or does not exist.
func (o *JobOperations) MarkCancelled(ctx context.Context, id string) (bool, error) {
	result, err := o.db.ExecContext(ctx, UpdateJobCancelled, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark job cancelled: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (o *JobOperations) SetNote(ctx context.Context, id, note string) error {
	if _, err := o.db.ExecContext(ctx, UpdateJobNote, note, id); err != nil {
		return fmt.Errorf("failed to set job note: %w", err)
	}
	return nil
}

// ResetProcessing puts jobs interrupted by a shutdown back to pending.
func (o *JobOperations) ResetProcessing(ctx context.Context) (int64, error) {
	result, err := o.db.ExecContext(ctx, ResetProcessingJobs)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing jobs: %w", err)
	}
	return result.RowsAffected()
}

func (o *JobOperations) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := o.db.QueryContext(ctx, CountJobsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*PrintJob, error) {
	j := &PrintJob{}
	err := row.Scan(
		&j.ID, &j.Kind, &j.PayloadJSON, &j.DeviceName, &j.Status, &j.Pages, &j.Copies,
		&j.Density, &j.MediaType, &j.Mode, &j.Multiple,
		&j.CurrentPage, &j.CurrentCopy, &j.ErrorCode, &j.ErrorState, &j.ErrorMessage, &j.Note, &j.SubmittedBy,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]*PrintJob, error) {
	var jobs []*PrintJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type TemplateOperations struct {
	db *sql.DB
}

func NewTemplateOperations(db *sql.DB) *TemplateOperations {
	return &TemplateOperations{db: db}
}

func (o *TemplateOperations) CreateTemplate(ctx context.Context, t *LabelTemplate) error {
	result, err := o.db.ExecContext(ctx, InsertTemplate,
		t.Name, t.Description, t.SchemaJSON, t.WidthMM, t.HeightMM)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get template id: %w", err)
	}
	t.ID = id
	return nil
}

func (o *TemplateOperations) GetTemplateByID(ctx context.Context, id int64) (*LabelTemplate, error) {
	t := &LabelTemplate{}
	err := o.db.QueryRowContext(ctx, GetTemplateByID, id).Scan(
		&t.ID, &t.Name, &t.Description, &t.SchemaJSON,
		&t.WidthMM, &t.HeightMM, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

func (o *TemplateOperations) ListTemplates(ctx context.Context) ([]*LabelTemplate, error) {
	rows, err := o.db.QueryContext(ctx, ListTemplates)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*LabelTemplate
	for rows.Next() {
		t := &LabelTemplate{}
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Description, &t.SchemaJSON,
			&t.WidthMM, &t.HeightMM, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// DeleteTemplate returns sql.ErrNoRows when no template has that id.
func (o *TemplateOperations) DeleteTemplate(ctx context.Context, id int64) error {
	result, err := o.db.ExecContext(ctx, DeleteTemplate, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type SettingsOperations struct {
	db *sql.DB
}

func NewSettingsOperations(db *sql.DB) *SettingsOperations {
	return &SettingsOperations{db: db}
}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := o.db.QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string) error {
	if _, err := o.db.ExecContext(ctx, SetSetting, key, value); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	if _, err := o.db.ExecContext(ctx, DeleteSetting, key); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

type AuditOperations struct {
	db *sql.DB
}

func NewAuditOperations(db *sql.DB) *AuditOperations {
	return &AuditOperations{db: db}
}

func (o *AuditOperations) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	result, err := o.db.ExecContext(ctx, InsertAuditLog,
		log.Action, log.EntityType, log.EntityID, log.DetailsJSON, log.IPAddress)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit log id: %w", err)
	}
	log.ID = id
	return nil
}

func (o *AuditOperations) ListAuditLogs(ctx context.Context, limit, offset int) ([]*AuditLog, error) {
	rows, err := o.db.QueryContext(ctx, ListAuditLog, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		l := &AuditLog{}
		if err := rows.Scan(&l.ID, &l.Action, &l.EntityType, &l.EntityID,
			&l.DetailsJSON, &l.IPAddress, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Store bundles the operations over one database handle.
type Store struct {
	DB        *sql.DB
	Jobs      *JobOperations
	Templates *TemplateOperations
	Settings  *SettingsOperations
	Audit     *AuditOperations
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		DB:        db,
		Jobs:      NewJobOperations(db),
		Templates: NewTemplateOperations(db),
		Settings:  NewSettingsOperations(db),
		Audit:     NewAuditOperations(db),
	}
}

func (s *Store) Close() error {
	return s.DB.Close()
}
