package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/core"
	"github.com/orrn/labelstream/internal/db"
	"github.com/orrn/labelstream/internal/device"
	"github.com/orrn/labelstream/internal/profile"
	"github.com/orrn/labelstream/internal/template"
)

// Device is the printer side the health and status endpoints look at.
type Device interface {
	Name() string
	IsConnected() bool
	Status() (device.Status, error)
}

type HealthResponse struct {
	Status     string           `json:"status"`
	Device     string           `json:"device"`
	Connected  bool             `json:"connected"`
	CurrentJob string           `json:"current_job,omitempty"`
	Queue      map[string]int64 `json:"queue"`
}

type PrinterStatusResponse struct {
	Device       string    `json:"device"`
	Status       string    `json:"status"`
	PrinterState string    `json:"printer_state"`
	Warning      string    `json:"warning"`
	Error        string    `json:"error"`
	MediaError   string    `json:"media_error"`
	IsOnline     bool      `json:"is_online"`
	ErrorCode    *int      `json:"error_code,omitempty"`
	Message      string    `json:"message,omitempty"`
	LastChecked  time.Time `json:"last_checked"`
}

type TestPrintRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type PrinterHandler struct {
	device   Device
	spooler  Spooler
	jobs     *db.JobOperations
	resolver *profile.Resolver
	logger   *zap.Logger
}

func NewPrinterHandler(dev Device, spooler Spooler, jobs *db.JobOperations, resolver *profile.Resolver, logger *zap.Logger) *PrinterHandler {
	return &PrinterHandler{device: dev, spooler: spooler, jobs: jobs, resolver: resolver, logger: logger}
}

// Health reports service liveness together with printer connectivity.
// It answers 200 while the service runs; "degraded" means the printer is
// unreachable.
func (h *PrinterHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Device:    h.device.Name(),
		Connected: h.device.IsConnected(),
		Queue:     map[string]int64{},
	}
	if !resp.Connected {
		resp.Status = "degraded"
	}
	if id, ok := h.spooler.Current(); ok {
		resp.CurrentJob = id
	}
	if counts, err := h.jobs.CountByStatus(c.Request.Context()); err == nil {
		resp.Queue = counts
	} else {
		h.logger.Warn("failed to count jobs", zap.Error(err))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PrinterHandler) Status(c *gin.Context) {
	resp := PrinterStatusResponse{
		Device:       h.device.Name(),
		Status:       "offline",
		PrinterState: "unknown",
		Warning:      "none",
		Error:        "connection_failed",
		MediaError:   "none",
		LastChecked:  time.Now(),
	}

	st, err := h.device.Status()
	if err != nil {
		h.logger.Debug("printer status query failed", zap.Error(err))
		c.JSON(http.StatusOK, resp)
		return
	}

	resp.Status = st.Summary()
	resp.PrinterState = st.PrinterState
	resp.Warning = st.Warning
	resp.Error = st.Error
	resp.MediaError = st.MediaError
	resp.IsOnline = true
	if code, fault := st.Fault(); fault {
		resp.ErrorCode = &code
		resp.Message = core.DeviceMessage(code)
	}
	c.JSON(http.StatusOK, resp)
}

// TestPrint queues a one-page label naming the device.
func (h *PrinterHandler) TestPrint(c *gin.Context) {
	req := TestPrintRequest{Width: 50, Height: 30}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
			return
		}
	}

	label, err := testLabel(h.device.Name(), req.Width, req.Height)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	job, err := h.spooler.Submit(c.Request.Context(), core.SubmitRequest{
		Templates:   []*template.Template{label},
		Copies:      1,
		SubmittedBy: c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, SubmitResponse{ID: job.ID, Status: job.Status, Kind: job.Kind, Pages: job.Pages, Copies: job.Copies})
}

func (h *PrinterHandler) Profile(c *gin.Context) {
	name := c.Param("device")
	c.JSON(http.StatusOK, gin.H{"device": name, "profile": h.resolver.Lookup(name)})
}

func testLabel(name string, width, height float64) (*template.Template, error) {
	margin := 2.0
	inner := width - 2*margin
	return template.New(
		template.DrawingBoardParams{Width: width, Height: height, Path: "ZT001.ttf"},
		&template.Graph{Geometry: template.Geometry{X: 1, Y: 1, Width: width - 2, Height: height - 2}, GraphType: 3, LineWidth: 0.3},
		&template.Text{Geometry: template.Geometry{X: margin, Y: margin, Width: inner, Height: height * 0.25}, Value: "TEST LABEL", FontSize: 4, TextAlignHorizontal: 1, FontStyle: [4]bool{true}},
		&template.Text{Geometry: template.Geometry{X: margin, Y: margin + height*0.3, Width: inner, Height: height * 0.2}, Value: name, FontSize: 3, TextAlignHorizontal: 1},
		&template.BarCode{Geometry: template.Geometry{X: margin, Y: height * 0.55, Width: inner, Height: height * 0.35}, Value: time.Now().Format("20060102150405"), CodeType: 20, TextHeight: 2.5},
	)
}
