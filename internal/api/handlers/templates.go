package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/core"
	"github.com/orrn/labelstream/internal/db"
	"github.com/orrn/labelstream/internal/template"
)

type CreateTemplateRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema" binding:"required"`
}

type TemplateResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Variables   []string        `json:"variables"`
	WidthMM     float64         `json:"width_mm"`
	HeightMM    float64         `json:"height_mm"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CompileRequest struct {
	PrintRequest
	Multiple float64 `json:"multiple"`
}

type CompileResponse struct {
	Pages []core.Page `json:"pages"`
}

type TemplateHandler struct {
	templates *db.TemplateOperations
	source    *templateSource
	compiler  *core.Compiler
	multiple  float64
	audit     *db.AuditOperations
	logger    *zap.Logger
}

// NewTemplateHandler serves stored templates and compile previews.
// multiple is the print multiple used when a preview does not set one.
func NewTemplateHandler(templates *db.TemplateOperations, compiler *core.Compiler, multiple float64, auditOps *db.AuditOperations, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{
		templates: templates,
		source:    &templateSource{templates: templates},
		compiler:  compiler,
		multiple:  multiple,
		audit:     auditOps,
		logger:    logger,
	}
}

func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	templates, err := h.templates.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]TemplateResponse, 0, len(templates))
	for _, t := range templates {
		resp := h.toResponse(t)
		resp.Schema = nil
		response = append(response, resp)
	}
	c.JSON(http.StatusOK, response)
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	parsed, err := template.Parse(req.Schema)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// Stored in canonical form so later reads round-trip.
	schema, err := json.Marshal(parsed)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	t := &db.LabelTemplate{
		Name:        req.Name,
		Description: req.Description,
		SchemaJSON:  string(schema),
		WidthMM:     parsed.Board.Width,
		HeightMM:    parsed.Board.Height,
	}
	if err := h.templates.CreateTemplate(c.Request.Context(), t); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "duplicate_name", Message: "A template with this name already exists"})
			return
		}
		respondError(c, h.logger, err)
		return
	}

	stored, err := h.templates.GetTemplateByID(c.Request.Context(), t.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	audit(c, h.audit, h.logger, "create", "template", strconv.FormatInt(t.ID, 10), gin.H{"name": t.Name})
	c.JSON(http.StatusCreated, h.toResponse(stored))
}

func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	t, err := h.templates.GetTemplateByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(t))
}

func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.templates.DeleteTemplate(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	audit(c, h.audit, h.logger, "delete", "template", strconv.FormatInt(id, 10), nil)
	c.JSON(http.StatusOK, gin.H{"message": "template deleted"})
}

// Compile returns the page buffers and metadata a print request would
// produce, without printing.
func (h *TemplateHandler) Compile(c *gin.Context) {
	var req CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	templates, err := h.source.resolve(c.Request.Context(), req.Templates, req.TemplateIDs, req.Variables)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if len(templates) == 0 {
		respondError(c, h.logger, core.ErrNoPages)
		return
	}

	multiple := req.Multiple
	if multiple <= 0 {
		multiple = h.multiple
	}
	copies := req.Copies
	if copies < 1 {
		copies = 1
	}

	pages, err := h.compiler.CompilePages(templates, core.PageOptions{Copies: copies, Multiple: multiple})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, CompileResponse{Pages: pages})
}

func (h *TemplateHandler) toResponse(t *db.LabelTemplate) TemplateResponse {
	resp := TemplateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Schema:      json.RawMessage(t.SchemaJSON),
		Variables:   []string{},
		WidthMM:     t.WidthMM,
		HeightMM:    t.HeightMM,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if parsed, err := template.Parse([]byte(t.SchemaJSON)); err == nil {
		resp.Variables = parsed.Variables()
	} else {
		h.logger.Warn("stored template does not parse", zap.Int64("template_id", t.ID), zap.Error(err))
	}
	return resp
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid template ID"})
		return 0, false
	}
	return id, true
}
