package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"journey-engine/internal/config"
	"journey-engine/internal/domain"
	"journey-engine/internal/logging"
	"journey-engine/internal/ports"
	"journey-engine/internal/service"
)

// defaultDrainLimit bounds one RunOnce dispatch drain when the queue is unbounded.
const defaultDrainLimit = 1000

// Stats holds the results of one RunOnce invocation.
type Stats struct {
	Fired          int
	Advanced       int
	Stale          int
	TimerErrors    int
	Dispatched     int
	DispatchErrors int
}

// App is the main application container.
type App struct {
	cfg        *config.AppConfig
	logger     *slog.Logger
	scanner    ports.JourneyScanner
	engine     *service.Engine
	router     *service.Router
	dispatcher *service.Dispatcher
	scheduler  *service.Scheduler
}

// Options configures the App.
type Options struct {
	Config      *config.AppConfig
	Logger      *slog.Logger
	States      ports.StateRepository
	Scanner     ports.JourneyScanner
	Timers      ports.TimerStore
	Idempotency ports.IdempotencyStore
	Customers   ports.CustomerDirectory
	Journeys    ports.JourneyRepository
	Loader      ports.JourneyDefinitionLoader // optional
	Jobs        ports.JobStore
	Queue       ports.JobQueue
	Messenger   ports.Messenger
	Clock       func() time.Time
}

// New creates a new App with all dependencies injected.
func New(opts Options) *App {
	cfg := opts.Config.Engine

	dispatcher := service.NewDispatcher(service.DispatcherOptions{
		Jobs:          opts.Jobs,
		Queue:         opts.Queue,
		Messenger:     opts.Messenger,
		Customers:     opts.Customers,
		Capacity:      cfg.QueueCapacity,
		Workers:       cfg.DispatchWorkers,
		AwaitCallback: cfg.AwaitCallback,
		Logger:        logging.WithComponent(opts.Logger, "dispatcher"),
		Clock:         opts.Clock,
	})

	engine := service.NewEngine(service.EngineOptions{
		States:      opts.States,
		Timers:      opts.Timers,
		Idempotency: opts.Idempotency,
		Customers:   opts.Customers,
		Journeys:    opts.Journeys,
		Loader:      opts.Loader,
		Scanner:     opts.Scanner,
		Dispatcher:  dispatcher,
		Logger:      logging.WithComponent(opts.Logger, "engine"),
		Clock:       opts.Clock,
	})

	return &App{
		cfg:        opts.Config,
		logger:     opts.Logger,
		scanner:    opts.Scanner,
		engine:     engine,
		router:     service.NewRouter(engine, logging.WithComponent(opts.Logger, "router")),
		dispatcher: dispatcher,
		scheduler: service.NewScheduler(engine, opts.Timers, cfg.TimerBatch, cfg.SchedulerInterval,
			logging.WithComponent(opts.Logger, "scheduler")),
	}
}

// Run starts the scheduler loop and the dispatch workers and blocks until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting journey engine")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(ctx); err != nil {
			a.logger.Error("scheduler exited", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := a.dispatcher.Run(ctx); err != nil {
			a.logger.Error("dispatcher exited", "error", err)
		}
	}()
	wg.Wait()

	a.logger.Info("journey engine stopped")
	return nil
}

// RunOnce fires every due timer and drains the dispatch queue once. It is
// the body of one scheduled Lambda invocation.
func (a *App) RunOnce(ctx context.Context) (Stats, error) {
	if a.logger.Enabled(ctx, slog.LevelDebug) {
		a.logJourneys(ctx)
	}

	var stats Stats
	tick, err := a.scheduler.RunDue(ctx)
	stats.Fired, stats.Advanced, stats.Stale, stats.TimerErrors = tick.Fired, tick.Advanced, tick.Stale, tick.Errors
	if err != nil {
		return stats, err
	}

	limit := defaultDrainLimit
	if a.cfg.Engine.QueueCapacity > 0 {
		limit = int(a.cfg.Engine.QueueCapacity)
	}
	drained, err := a.dispatcher.Drain(ctx, limit)
	stats.Dispatched, stats.DispatchErrors = drained.Processed, drained.Errors
	if err != nil {
		return stats, err
	}

	a.logger.Info("run completed",
		"fired", stats.Fired,
		"advanced", stats.Advanced,
		"stale", stats.Stale,
		"timer_errors", stats.TimerErrors,
		"dispatched", stats.Dispatched,
		"dispatch_errors", stats.DispatchErrors,
	)
	return stats, nil
}

// logJourneys logs how many customers each journey holds.
func (a *App) logJourneys(ctx context.Context) {
	if a.scanner == nil {
		return
	}
	states, err := a.scanner.ScanAllJourneys(ctx)
	if err != nil {
		a.logger.Warn("failed to scan journeys", "error", &domain.JourneyError{Op: "ScanAllJourneys", Err: err})
		return
	}
	grouped := groupByJourneyID(states)
	for journeyID, group := range grouped {
		waiting := 0
		for _, st := range group {
			if st.Status == domain.StatusWaiting {
				waiting++
			}
		}
		a.logger.Debug("journey customers", "journey_id", journeyID, "customers", len(group), "waiting", waiting)
	}
}

func groupByJourneyID(states []*domain.CustomerJourneyState) map[string][]*domain.CustomerJourneyState {
	groups := make(map[string][]*domain.CustomerJourneyState)
	for _, st := range states {
		groups[st.JourneyID] = append(groups[st.JourneyID], st)
	}
	return groups
}

// Ingest routes one inbound event.
func (a *App) Ingest(ctx context.Context, event domain.Event) (*service.IngestResult, error) {
	return a.router.Ingest(ctx, event)
}

func (a *App) GetJob(ctx context.Context, jobID string) (*domain.DispatchJob, error) {
	return a.dispatcher.GetJob(ctx, jobID)
}

func (a *App) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	return a.dispatcher.GetStatus(ctx, jobID)
}

func (a *App) ReportStatus(ctx context.Context, jobID string, status domain.JobStatus, reason string) error {
	return a.dispatcher.ReportStatus(ctx, jobID, status, reason)
}

func (a *App) Activate(ctx context.Context, req service.ActivationRequest) (*service.ActivationResult, error) {
	return a.engine.Activate(ctx, req)
}

func (a *App) Deactivate(ctx context.Context, journeyID string) error {
	return a.engine.Deactivate(ctx, journeyID)
}

func (a *App) Enroll(ctx context.Context, journeyID string, customerIDs []string) (*service.EnrollResult, error) {
	return a.engine.Enroll(ctx, journeyID, customerIDs)
}

func (a *App) Stats(ctx context.Context, journeyID string) (*service.JourneyStats, error) {
	return a.engine.Stats(ctx, journeyID)
}

func (a *App) CustomerJourney(ctx context.Context, journeyID, customerID string) (*service.CustomerView, error) {
	return a.engine.CustomerJourney(ctx, journeyID, customerID)
}

func (a *App) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	return a.engine.UpsertCustomer(ctx, customer)
}
