// Package api wires the HTTP surface: authentication, print submission,
// stored templates, jobs and printer status under /api/v1.
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/api/handlers"
	"github.com/orrn/labelstream/internal/api/middleware"
	"github.com/orrn/labelstream/internal/archive"
	"github.com/orrn/labelstream/internal/core"
	"github.com/orrn/labelstream/internal/db"
	"github.com/orrn/labelstream/internal/profile"
)

type Deps struct {
	Store    *db.Store
	Spooler  handlers.Spooler
	Compiler *core.Compiler
	Device   handlers.Device
	Resolver *profile.Resolver
	Auth     *middleware.AuthMiddleware
	Archiver *archive.Archiver
	Multiple float64
	Logger   *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(d.Logger.Named("http")))

	printH := handlers.NewPrintHandler(d.Spooler, d.Store.Templates, d.Store.Audit, d.Logger)
	templateH := handlers.NewTemplateHandler(d.Store.Templates, d.Compiler, d.Multiple, d.Store.Audit, d.Logger)
	jobH := handlers.NewJobHandler(d.Store.Jobs, d.Spooler, d.Store.Audit, d.Logger)
	printerH := handlers.NewPrinterHandler(d.Device, d.Spooler, d.Store.Jobs, d.Resolver, d.Logger)
	archiveH := handlers.NewArchiveHandler(d.Archiver, d.Store.Audit, d.Logger)

	v1 := router.Group("/api/v1")
	v1.GET("/health", printerH.Health)

	auth := v1.Group("/auth")
	{
		auth.POST("/setup", d.Auth.SetupHandler)
		auth.POST("/login", d.Auth.LoginHandler)
		auth.POST("/logout", d.Auth.LogoutHandler)
		auth.GET("/status", d.Auth.StatusHandler)
	}

	protected := v1.Group("", d.Auth.RequireAuth())
	{
		protected.POST("/print", printH.Print)
		protected.POST("/print/images", printH.PrintImages)

		protected.POST("/templates/compile", templateH.Compile)
		protected.GET("/templates", templateH.ListTemplates)
		protected.POST("/templates", templateH.CreateTemplate)
		protected.GET("/templates/:id", templateH.GetTemplate)
		protected.DELETE("/templates/:id", templateH.DeleteTemplate)

		protected.GET("/jobs", jobH.ListJobs)
		protected.GET("/jobs/:id", jobH.GetJob)
		protected.POST("/jobs/:id/cancel", jobH.CancelJob)

		protected.GET("/printer/status", printerH.Status)
		protected.POST("/printer/test", printerH.TestPrint)
		protected.GET("/profiles/:device", printerH.Profile)

		protected.GET("/archives", archiveH.ListArchives)
		protected.GET("/archives/:filename", archiveH.GetArchive)
		protected.POST("/archives/run", archiveH.RunArchive)
	}

	return router
}
