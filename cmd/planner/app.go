package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/config"
	"github.com/example/activity-planner/internal/directory"
	"github.com/example/activity-planner/internal/notify"
	"github.com/example/activity-planner/internal/persistence/sqlite"
	"github.com/example/activity-planner/internal/storage"
	"github.com/example/activity-planner/internal/workflow"
)

// app holds the services shared by the HTTP server.
type app struct {
	activities *application.ActivityService
	workflow   *application.WorkflowService
	closers    []func() error
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func newID() string {
	return uuid.NewString()
}

// buildApp wires the stores, approver directory and notifier selected by cfg.
// Console output from the fallback sender goes to out.
func buildApp(ctx context.Context, cfg config.Config, db *sql.DB, out io.Writer, logger *slog.Logger) (*app, error) {
	a := &app{}

	wfConfig, err := loadWorkflowConfig(cfg)
	if err != nil {
		return nil, err
	}

	approvers, err := buildDirectory(ctx, cfg, a, logger)
	if err != nil {
		return nil, err
	}

	sender, err := buildSender(cfg, out, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	dispatcher, err := notify.NewDispatcher(notify.DispatcherOptions{
		Sender:   sender,
		AppName:  cfg.AppName,
		BaseURL:  cfg.BaseURL,
		Location: cfg.Location,
		Logger:   logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	store := storage.NewStore(sqlite.NewStore(db))
	uow := storage.NewUnitOfWork(db)

	a.workflow = application.NewWorkflowService(application.WorkflowDependencies{
		Store:       store,
		UnitOfWork:  uow,
		Config:      wfConfig,
		Directory:   approvers,
		Notifier:    dispatcher,
		Location:    cfg.Location,
		IDGenerator: newID,
		Logger:      logger,
	})
	a.activities = application.NewActivityService(application.ActivityDependencies{
		Store:       store,
		UnitOfWork:  uow,
		Workflow:    a.workflow,
		IDGenerator: newID,
		Logger:      logger,
	})
	return a, nil
}

func loadWorkflowConfig(cfg config.Config) (workflow.Config, error) {
	if cfg.WorkflowFile == "" {
		return workflow.Default()
	}
	wf, err := workflow.LoadConfigFile(cfg.WorkflowFile)
	if err != nil {
		return workflow.Config{}, fmt.Errorf("load workflow %s: %w", cfg.WorkflowFile, err)
	}
	return wf, nil
}

func buildDirectory(ctx context.Context, cfg config.Config, a *app, logger *slog.Logger) (application.ApproverDirectory, error) {
	if cfg.DirectoryDSN == "" {
		logger.Info("using static approver directory", "steps", len(cfg.StaticApprovers))
		return directory.NewStatic(cfg.StaticApprovers), nil
	}

	dir, db, err := directory.Open(ctx, cfg.DirectoryDSN, directory.Options{
		Procedure: cfg.DirectoryProcedure,
		Timeout:   cfg.DirectoryTimeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open approver directory: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	return dir, nil
}

func buildSender(cfg config.Config, out io.Writer, logger *slog.Logger) (notify.Sender, error) {
	if cfg.SendGridAPIKey == "" {
		logger.Info("SendGrid is not configured; notifications are written to the console")
		return notify.NewConsoleSender(out, cfg.FromEmail, logger), nil
	}
	return notify.NewSendGridSender(cfg.SendGridAPIKey, cfg.FromEmail, cfg.AppName)
}
