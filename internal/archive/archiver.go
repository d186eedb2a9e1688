package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/config"
)

var ErrArchiveNotFound = errors.New("archive not found")

// Archiver moves finished jobs older than the retention window out of the
// live database into one sqlite file per month.
type Archiver struct {
	db          *sql.DB
	archivePath string
	archiveDays int
	interval    time.Duration
	logger      *zap.Logger
	now         func() time.Time
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
}

type ArchiveFile struct {
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	JobCount   int       `json:"job_count"`
	Month      string    `json:"month"`
	ArchivedAt time.Time `json:"archived_at"`
}

const jobColumns = `id, kind, payload_json, device_name, status, pages, copies, density, media_type, mode, multiple,
	current_page, current_copy, error_code, error_state, error_message, note, submitted_by,
	created_at, started_at, completed_at`

const archiveSchema = `
	CREATE TABLE IF NOT EXISTS print_jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		device_name TEXT NOT NULL,
		status TEXT NOT NULL,
		pages INTEGER NOT NULL,
		copies INTEGER NOT NULL,
		density INTEGER NOT NULL,
		media_type INTEGER NOT NULL,
		mode INTEGER NOT NULL,
		multiple REAL NOT NULL,
		current_page INTEGER NOT NULL,
		current_copy INTEGER NOT NULL,
		error_code INTEGER,
		error_state INTEGER,
		error_message TEXT NOT NULL,
		note TEXT NOT NULL,
		submitted_by TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS archive_metadata (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		archived_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_archive_jobs_completed_at ON print_jobs(completed_at);
`

func NewArchiver(db *sql.DB, cfg config.ArchiveConfig, logger *zap.Logger) (*Archiver, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/archives"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		db:          db,
		archivePath: cfg.Path,
		archiveDays: cfg.Days,
		interval:    cfg.Interval,
		logger:      logger,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.run()
}

func (a *Archiver) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Archiver) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.runOnce()
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (a *Archiver) runOnce() {
	n, err := a.RunArchive(context.Background())
	if err != nil {
		a.logger.Error("job archive failed", zap.Error(err))
		return
	}
	if n > 0 {
		a.logger.Info("archived finished jobs", zap.Int("count", n))
	}
}

// RunArchive moves every completed, failed or cancelled job that finished
// before the retention window and returns how many were moved. Jobs leave
// the live database only after the archive transaction commits.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.archiveDays <= 0 {
		return 0, nil
	}

	rows, err := a.jobsForArchival(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	path := filepath.Join(a.archivePath, fmt.Sprintf("archive_%s.db", a.now().Format("2006_01")))
	archiveDB, err := openArchiveDB(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive database: %w", err)
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	insert := `INSERT OR REPLACE INTO print_jobs (` + jobColumns + `) VALUES (?` + strings.Repeat(", ?", len(rows[0])-1) + `)`
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, insert, row...); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert job to archive: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO archive_metadata (id, archived_at) VALUES (1, ?)`, a.now().UTC()); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to update archive metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive transaction: %w", err)
	}

	if err := a.deleteArchivedJobs(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to delete archived jobs: %w", err)
	}
	return len(rows), nil
}

func (a *Archiver) jobsForArchival(ctx context.Context) ([][]any, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM print_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND completed_at IS NOT NULL
		AND completed_at < datetime('now', ?)
		ORDER BY completed_at ASC
	`, fmt.Sprintf("-%d days", a.archiveDays))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

func openArchiveDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *Archiver) deleteArchivedJobs(ctx context.Context, rows [][]any) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, "DELETE FROM print_jobs WHERE id = ?", row[0]); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	entries, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	archives := []*ArchiveFile{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "archive_") || !strings.HasSuffix(name, ".db") {
			continue
		}
		file, err := a.GetArchiveInfo(name)
		if err != nil {
			a.logger.Warn("skipping unreadable archive", zap.String("file", name), zap.Error(err))
			continue
		}
		archives = append(archives, file)
	}

	return archives, nil
}

func (a *Archiver) GetArchiveInfo(filename string) (*ArchiveFile, error) {
	if filepath.Base(filename) != filename {
		return nil, ErrArchiveNotFound
	}
	path := filepath.Join(a.archivePath, filename)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	file := &ArchiveFile{
		Filename:  filename,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
		Month:     strings.TrimSuffix(strings.TrimPrefix(filename, "archive_"), ".db"),
	}

	archiveDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	defer archiveDB.Close()

	if err := archiveDB.QueryRow(`SELECT COUNT(*) FROM print_jobs`).Scan(&file.JobCount); err != nil {
		return nil, fmt.Errorf("failed to count archived jobs: %w", err)
	}
	var archivedAt sql.NullTime
	if err := archiveDB.QueryRow(`SELECT archived_at FROM archive_metadata WHERE id = 1`).Scan(&archivedAt); err == nil && archivedAt.Valid {
		file.ArchivedAt = archivedAt.Time
	}

	return file, nil
}
