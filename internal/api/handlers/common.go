package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/archive"
	"github.com/orrn/labelstream/internal/core"
	"github.com/orrn/labelstream/internal/db"
	"github.com/orrn/labelstream/internal/template"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Element *int   `json:"element,omitempty"`
}

// Spooler is the job queue the handlers submit to.
type Spooler interface {
	Submit(ctx context.Context, req core.SubmitRequest) (*db.PrintJob, error)
	Cancel(ctx context.Context, id string) error
	Current() (string, bool)
}

// respondError maps domain errors to status codes. Anything unknown is
// logged and reported as a 500 without detail.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var te *template.TemplateError
	switch {
	case errors.As(err, &te):
		resp := ErrorResponse{Error: "invalid_template", Message: err.Error()}
		if te.Index >= 0 {
			idx := te.Index
			resp.Element = &idx
		}
		c.JSON(http.StatusBadRequest, resp)
	case errors.Is(err, core.ErrNoPages), errors.Is(err, core.ErrInvalidCopies),
		errors.Is(err, core.ErrMixedPayload), errors.Is(err, core.ErrEmptyImage),
		errors.Is(err, core.ErrQuantityMismatch),
		errors.Is(err, errBadImage):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, sql.ErrNoRows),
		errors.Is(err, archive.ErrArchiveNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Not found"})
	case errors.Is(err, core.ErrJobFinished), errors.Is(err, core.ErrNoActiveJob):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()})
	case errors.Is(err, core.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "queue_full", Message: err.Error()})
	case errors.Is(err, core.ErrNotConnected):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "printer_offline", Message: "Printer is offline"})
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Internal server error"})
	}
}

func audit(c *gin.Context, ops *db.AuditOperations, logger *zap.Logger, action, entityType, entityID string, details interface{}) {
	if ops == nil {
		return
	}
	detailsJSON := "{}"
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		}
	}
	err := ops.CreateAuditLog(c.Request.Context(), &db.AuditLog{
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		DetailsJSON: detailsJSON,
		IPAddress:   c.ClientIP(),
	})
	if err != nil {
		logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}
