package db

const jobColumns = `id, kind, payload_json, device_name, status, pages, copies, density, media_type, mode, multiple,
	current_page, current_copy, error_code, error_state, error_message, note, submitted_by,
	created_at, started_at, completed_at`

const (
	InsertJob = `
		INSERT INTO print_jobs (id, kind, payload_json, device_name, status, pages, copies, density, media_type, mode, multiple, submitted_by)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	GetPendingJobs = `SELECT ` + jobColumns + ` FROM print_jobs WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC`

	ListJobs = `SELECT ` + jobColumns + ` FROM print_jobs ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`

	ListJobsByStatus = `SELECT ` + jobColumns + ` FROM print_jobs WHERE status = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`

	UpdateJobProcessing = `
		UPDATE print_jobs SET status = 'processing', pages = ?, started_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'pending'
	`

	UpdateJobProgress = `
		UPDATE print_jobs SET current_page = ?, current_copy = ? WHERE id = ?
	`

	UpdateJobCompleted = `
		UPDATE print_jobs SET status = 'completed', completed_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	UpdateJobFailed = `
		UPDATE print_jobs SET status = 'failed', error_code = ?, error_state = ?, error_message = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	UpdateJobCancelled = `
		UPDATE print_jobs SET status = 'cancelled', completed_at = CURRENT_TIMESTAMP WHERE id = ? AND status IN ('pending', 'processing')
	`

	UpdateJobNote = `UPDATE print_jobs SET note = ? WHERE id = ?`

	ResetProcessingJobs = `UPDATE print_jobs SET status = 'pending', started_at = NULL WHERE status = 'processing'`

	CountJobsByStatus = `SELECT status, COUNT(*) FROM print_jobs GROUP BY status`
)

const (
	InsertTemplate = `
		INSERT INTO label_templates (name, description, schema_json, width_mm, height_mm)
		VALUES (?, ?, ?, ?, ?)
	`

	GetTemplateByID = `
		SELECT id, name, description, schema_json, width_mm, height_mm, created_at, updated_at
		FROM label_templates WHERE id = ?
	`

	ListTemplates = `
		SELECT id, name, description, schema_json, width_mm, height_mm, created_at, updated_at
		FROM label_templates ORDER BY name ASC
	`

	DeleteTemplate = `DELETE FROM label_templates WHERE id = ?`
)

const (
	GetSetting = `SELECT value, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)

const (
	InsertAuditLog = `
		INSERT INTO audit_log (action, entity_type, entity_id, details_json, ip_address)
		VALUES (?, ?, ?, ?, ?)
	`

	ListAuditLog = `
		SELECT id, action, entity_type, entity_id, details_json, ip_address, created_at
		FROM audit_log ORDER BY id DESC LIMIT ? OFFSET ?
	`
)

const (
	GetAppliedMigrations = `SELECT version FROM schema_migrations`
)
