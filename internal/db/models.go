package db

import (
	"time"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

const (
	JobKindTemplates = "templates"
	JobKindImages    = "images"
)

// PrintJob is one submitted job. PayloadJSON holds the templates or
// images exactly as submitted so the job can be rebuilt on recovery.
type PrintJob struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	PayloadJSON  string     `json:"-"`
	DeviceName   string     `json:"device_name"`
	Status       string     `json:"status"`
	Pages        int        `json:"pages"`
	Copies       int        `json:"copies"`
	Density      int        `json:"density"`
	MediaType    int        `json:"media_type"`
	Mode         int        `json:"mode"`
	Multiple     float64    `json:"multiple"`
	CurrentPage  int        `json:"current_page"`
	CurrentCopy  int        `json:"current_copy"`
	ErrorCode    *int       `json:"error_code,omitempty"`
	ErrorState   *int       `json:"error_state,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Note         string     `json:"note,omitempty"`
	SubmittedBy  string     `json:"submitted_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type LabelTemplate struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SchemaJSON  string    `json:"schema_json"`
	WidthMM     float64   `json:"width_mm"`
	HeightMM    float64   `json:"height_mm"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AuditLog struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	DetailsJSON string    `json:"details_json"`
	IPAddress   string    `json:"ip_address"`
	CreatedAt   time.Time `json:"created_at"`
}

type JobFilter struct {
	Status string
	Limit  int
	Offset int
}
