package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/core"
	"github.com/orrn/labelstream/internal/db"
	"github.com/orrn/labelstream/internal/template"
)

var errBadImage = errors.New("invalid image")

type PrintRequest struct {
	Templates   []json.RawMessage `json:"templates"`
	TemplateIDs []int64           `json:"template_ids"`
	Variables   map[string]string `json:"variables"`
	Copies      int               `json:"copies"`
	Density     *int              `json:"density"`
	MediaType   *int              `json:"media_type"`
	Mode        *int              `json:"mode"`
}

type ImagePrintRequest struct {
	Images    []ImagePageRequest `json:"images" binding:"required,min=1,dive"`
	Copies    int                `json:"copies"`
	Density   *int               `json:"density"`
	MediaType *int               `json:"media_type"`
	Mode      *int               `json:"mode"`
}

// ImagePageRequest is one page image. Data is base64, optionally with a
// data: URL prefix; width and height are millimetres. Quantity, when
// set, must equal the job's copies.
type ImagePageRequest struct {
	Data        string  `json:"data" binding:"required"`
	Width       float64 `json:"width" binding:"gt=0"`
	Height      float64 `json:"height" binding:"gt=0"`
	Orientation int     `json:"orientation"`
	Quantity    int     `json:"quantity"`
	Margin      [4]int  `json:"margin"`
}

type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Kind   string `json:"kind"`
	Pages  int    `json:"pages"`
	Copies int    `json:"copies"`
}

type PrintHandler struct {
	spooler Spooler
	source  *templateSource
	audit   *db.AuditOperations
	logger  *zap.Logger
}

func NewPrintHandler(spooler Spooler, templates *db.TemplateOperations, auditOps *db.AuditOperations, logger *zap.Logger) *PrintHandler {
	return &PrintHandler{
		spooler: spooler,
		source:  &templateSource{templates: templates},
		audit:   auditOps,
		logger:  logger,
	}
}

func (h *PrintHandler) Print(c *gin.Context) {
	var req PrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	templates, err := h.source.resolve(c.Request.Context(), req.Templates, req.TemplateIDs, req.Variables)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.submit(c, core.SubmitRequest{
		Templates: templates,
		Copies:    req.Copies,
		Density:   req.Density,
		MediaType: req.MediaType,
		Mode:      req.Mode,
	})
}

func (h *PrintHandler) PrintImages(c *gin.Context) {
	var req ImagePrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	pages := make([]core.ImagePage, len(req.Images))
	for i, img := range req.Images {
		data, err := decodeBase64(img.Data)
		if err != nil {
			respondError(c, h.logger, fmt.Errorf("%w: page %d: %v", errBadImage, i, err))
			return
		}
		pages[i] = core.ImagePage{
			Data:        data,
			Orientation: img.Orientation,
			WidthMM:     img.Width,
			HeightMM:    img.Height,
			Quantity:    img.Quantity,
			Margin:      img.Margin,
		}
	}

	h.submit(c, core.SubmitRequest{
		Images:    pages,
		Copies:    req.Copies,
		Density:   req.Density,
		MediaType: req.MediaType,
		Mode:      req.Mode,
	})
}

func (h *PrintHandler) submit(c *gin.Context, req core.SubmitRequest) {
	req.SubmittedBy = c.ClientIP()
	job, err := h.spooler.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	audit(c, h.audit, h.logger, "submit", "job", job.ID, gin.H{"kind": job.Kind, "pages": job.Pages, "copies": job.Copies})
	c.JSON(http.StatusAccepted, SubmitResponse{
		ID:     job.ID,
		Status: job.Status,
		Kind:   job.Kind,
		Pages:  job.Pages,
		Copies: job.Copies,
	})
}

// templateSource builds the template list of a request from inline
// documents followed by stored templates, substituting variables into
// every template that declares placeholders.
type templateSource struct {
	templates *db.TemplateOperations
}

func (s *templateSource) resolve(ctx context.Context, inline []json.RawMessage, ids []int64, vars map[string]string) ([]*template.Template, error) {
	out := make([]*template.Template, 0, len(inline)+len(ids))
	for i, raw := range inline {
		t, err := template.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		out = append(out, t)
	}
	for _, id := range ids {
		stored, err := s.templates.GetTemplateByID(ctx, id)
		if err != nil {
			return nil, err
		}
		t, err := template.Parse([]byte(stored.SchemaJSON))
		if err != nil {
			return nil, fmt.Errorf("stored template %d: %w", id, err)
		}
		out = append(out, t)
	}

	for i, t := range out {
		if len(t.Variables()) == 0 {
			continue
		}
		sub, err := t.Substitute(vars)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		out[i] = sub
	}
	return out, nil
}

func decodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
