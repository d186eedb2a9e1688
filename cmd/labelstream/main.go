package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/labelstream/internal/api"
	"github.com/orrn/labelstream/internal/api/middleware"
	"github.com/orrn/labelstream/internal/archive"
	"github.com/orrn/labelstream/internal/config"
	"github.com/orrn/labelstream/internal/core"
	"github.com/orrn/labelstream/internal/db"
	"github.com/orrn/labelstream/internal/device"
	"github.com/orrn/labelstream/internal/logging"
	"github.com/orrn/labelstream/internal/profile"
	"github.com/orrn/labelstream/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "labelstream.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "labelstream:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	database, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	store := db.NewStore(database)
	defer store.Close()

	resolver, err := profile.NewResolver(cfg.Profiles, profile.Profile{
		Mode:     cfg.Print.Mode,
		Density:  cfg.Print.Density,
		Multiple: cfg.Print.Multiple,
	})
	if err != nil {
		return err
	}
	prof := resolver.Lookup(cfg.Device.Name)

	backend := device.New(cfg.Device, logger)
	defer backend.Close()
	if err := backend.Connect(); err != nil {
		logger.Warn("printer not reachable at startup, will retry per job", zap.Error(err))
	}

	sender := webhook.NewWebhookSender(cfg.Webhooks, logger.Named("webhook"))
	sender.Start()
	defer sender.Stop()

	compiler := core.NewCompiler(backend)
	controller := core.NewController(backend, core.WithLogger(logger.Named("controller")))
	spooler := core.NewSpooler(store, compiler, controller, cfg.Device.Name, prof, cfg.Print, cfg.Spooler.QueueSize,
		core.WithNotifier(sender),
		core.WithSpoolerLogger(logger.Named("spooler")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := spooler.Start(ctx); err != nil {
		return err
	}
	defer spooler.Stop()

	var archiver *archive.Archiver
	if cfg.Archive.Days > 0 {
		archiver, err = archive.NewArchiver(database, cfg.Archive, logger.Named("archive"))
		if err != nil {
			return err
		}
		archiver.Start()
		defer archiver.Stop()
	}

	auth, err := middleware.NewAuthMiddleware(ctx, store.Settings, logger.Named("auth"))
	if err != nil {
		return err
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Store:    store,
		Spooler:  spooler,
		Compiler: compiler,
		Device:   backend,
		Resolver: resolver,
		Auth:     auth,
		Archiver: archiver,
		Multiple: prof.Multiple,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", server.Addr),
			zap.String("device", cfg.Device.Name),
			zap.String("transport", cfg.Device.Transport),
			zap.Int("density", prof.Density),
			zap.Int("mode", prof.Mode),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	return nil
}
