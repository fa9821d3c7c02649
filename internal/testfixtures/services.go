package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/workflow"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Location    *time.Location
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Location:    SchoolZone,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(factory)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithLogger overrides the discarding logger used by default.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// ServiceDeps captures the collaborators of the activity and workflow services.
type ServiceDeps struct {
	Store      application.Store
	UnitOfWork application.UnitOfWork
	Directory  application.ApproverDirectory
	Notifier   application.Notifier
	// Config defaults to workflow.Default when zero.
	Config workflow.Config
}

// Services bundles the two application services sharing one store.
type Services struct {
	Workflow   *application.WorkflowService
	Activities *application.ActivityService
}

// NewServices builds the workflow and activity services using the supplied
// dependencies combined with the factory defaults.
func (f *ServiceFactory) NewServices(deps ServiceDeps) (Services, error) {
	cfg := deps.Config
	if len(cfg.Chains) == 0 {
		def, err := workflow.Default()
		if err != nil {
			return Services{}, err
		}
		cfg = def
	}

	wf := application.NewWorkflowService(application.WorkflowDependencies{
		Store:       deps.Store,
		UnitOfWork:  deps.UnitOfWork,
		Config:      cfg,
		Directory:   deps.Directory,
		Notifier:    deps.Notifier,
		Location:    f.Location,
		IDGenerator: f.IDGenerator.NextFunc(),
		Now:         f.Clock.NowFunc(),
		Logger:      f.Logger,
	})
	activities := application.NewActivityService(application.ActivityDependencies{
		Store:       deps.Store,
		UnitOfWork:  deps.UnitOfWork,
		Workflow:    wf,
		IDGenerator: f.IDGenerator.NextFunc(),
		Now:         f.Clock.NowFunc(),
		Logger:      f.Logger,
	})
	return Services{Workflow: wf, Activities: activities}, nil
}
