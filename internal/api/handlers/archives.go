package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/archive"
	"github.com/orrn/labelstream/internal/db"
)

type ArchiveHandler struct {
	archiver *archive.Archiver
	audit    *db.AuditOperations
	logger   *zap.Logger
}

func NewArchiveHandler(archiver *archive.Archiver, auditOps *db.AuditOperations, logger *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, audit: auditOps, logger: logger}
}

func (h *ArchiveHandler) available(c *gin.Context) bool {
	if h.archiver == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Archiving is disabled"})
		return false
	}
	return true
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	if !h.available(c) {
		return
	}
	archives, err := h.archiver.ListArchives()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archives": archives})
}

func (h *ArchiveHandler) GetArchive(c *gin.Context) {
	if !h.available(c) {
		return
	}
	info, err := h.archiver.GetArchiveInfo(c.Param("filename"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// RunArchive archives eligible jobs now instead of waiting for the next tick.
func (h *ArchiveHandler) RunArchive(c *gin.Context) {
	if !h.available(c) {
		return
	}
	n, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	audit(c, h.audit, h.logger, "archive", "job", "", gin.H{"count": n})
	c.JSON(http.StatusOK, gin.H{"archived": n})
}
