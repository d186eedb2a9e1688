package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/db"
)

type ListJobsQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=pending processing completed failed cancelled"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

type JobResponse struct {
	*db.PrintJob
	DurationMS *int64 `json:"duration_ms,omitempty"`
}

type JobHandler struct {
	jobs    *db.JobOperations
	spooler Spooler
	audit   *db.AuditOperations
	logger  *zap.Logger
}

func NewJobHandler(jobs *db.JobOperations, spooler Spooler, auditOps *db.AuditOperations, logger *zap.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, spooler: spooler, audit: auditOps, logger: logger}
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if query.Limit == 0 {
		query.Limit = 50
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), db.JobFilter{
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobToResponse(job))
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   responses,
		"limit":  query.Limit,
		"offset": query.Offset,
		"count":  len(responses),
	})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

// CancelJob cancels a pending job immediately. For the job being printed
// it requests a device cancel and answers 202; the job turns cancelled
// once the printer confirms.
func (h *JobHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	active, _ := h.spooler.Current()

	if err := h.spooler.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	audit(c, h.audit, h.logger, "cancel", "job", id, nil)
	if active == id {
		c.JSON(http.StatusAccepted, gin.H{"message": "cancel requested"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
}

func jobToResponse(job *db.PrintJob) JobResponse {
	resp := JobResponse{PrintJob: job}
	if job.StartedAt != nil && job.CompletedAt != nil {
		d := job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
		resp.DurationMS = &d
	}
	return resp
}
