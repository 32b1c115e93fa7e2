package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gel2mdt-server/internal/alerts"
	"github.com/gel2mdt-server/internal/archive"
	"github.com/gel2mdt-server/internal/config"
	"github.com/gel2mdt-server/internal/database"
	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/events"
	"github.com/gel2mdt-server/internal/notify"
	"github.com/gel2mdt-server/internal/repository"
	"github.com/gel2mdt-server/internal/scheduler"
	"github.com/gel2mdt-server/internal/service"
	"github.com/gel2mdt-server/pkg/external"
)

// app holds every long-lived dependency one command needs
type app struct {
	manager *config.Manager
	config  *domain.Config
	logger  *logrus.Logger

	db        *database.DB
	cache     *external.CacheClient
	clients   *external.Clients
	publisher events.Publisher

	cases   *repository.CaseRepository
	mdts    *repository.MDTRepository
	panels  *repository.PanelRepository
	updates *repository.ListUpdateRepository

	caseService *service.CaseService
	mdtService  *service.MDTService
	alerts      alerts.Store
	archive     archive.Sink

	closers []func() error
}

// appOptions selects the optional parts of the dependency graph
type appOptions struct {
	// clients builds the authenticated CIP-API, PanelApp and annotation clients
	clients bool
	// interactive allows credentials to be prompted for on the terminal
	interactive bool
	alerts      bool
	archive     bool
}

func newApp(ctx context.Context, cmd *cobra.Command, opts appOptions) (*app, error) {
	manager, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg := manager.GetConfig()
	logger := newLogger(cfg.Logging)

	a := &app{manager: manager, config: cfg, logger: logger}

	db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() error { db.Close(); return nil })

	a.cache = a.connectCache()

	a.publisher = events.NewPublisher(cfg.Events, logger)
	a.closers = append(a.closers, a.publisher.Close)

	a.cases = repository.NewCaseRepository(db.Pool, logger)
	a.mdts = repository.NewMDTRepository(db.Pool, logger)
	a.panels = repository.NewPanelRepository(db.Pool, logger)
	a.updates = repository.NewListUpdateRepository(db.Pool, logger)

	var checker external.SyntaxChecker
	if opts.clients {
		var prompter external.Prompter
		if opts.interactive {
			prompter = external.NewTerminalPrompter()
		}
		clients, err := external.NewClients(cfg, a.cache, prompter, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("building API clients: %w", err)
		}
		a.clients = clients
		checker = clients.Mutalyzer
	}

	a.caseService = service.NewCaseService(service.CaseServiceDeps{
		Cases:     a.cases,
		MDTs:      a.mdts,
		Panels:    a.panels,
		Updates:   a.updates,
		Checker:   checker,
		Publisher: a.publisher,
	}, cfg.Ingest.GMCs, logger)
	a.mdtService = service.NewMDTService(a.mdts, a.cases, logger)

	if opts.alerts {
		store, err := alerts.NewStore(cfg.Alerts, manager.GetDatabaseURL())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening case alert store: %w", err)
		}
		a.alerts = store
		a.closers = append(a.closers, store.Close)
	}

	a.archive = archive.NopSink{}
	if opts.archive {
		sink, err := archive.NewSink(ctx, cfg.Archive, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating export archive: %w", err)
		}
		a.archive = sink
	}

	return a, nil
}

// connectCache returns nil when Redis is not configured or unreachable.
// Lookups then go uncached and scheduled jobs run without a lock.
func (a *app) connectCache() *external.CacheClient {
	if a.config.Cache.RedisURL == "" {
		a.logger.Warn("No Redis URL configured, running without shared cache")
		return nil
	}
	cache, err := external.NewCacheClient(a.config.Cache)
	if err != nil {
		a.logger.WithError(err).Warn("Redis unavailable, running without shared cache")
		return nil
	}
	a.closers = append(a.closers, cache.Close)
	return cache
}

// newIngester builds a case ingester. It needs the API clients.
func (a *app) newIngester(progress service.ProgressReporter) (*service.CaseIngester, error) {
	if a.clients == nil {
		return nil, fmt.Errorf("API clients are not configured for this command")
	}
	return service.NewCaseIngester(service.IngesterDeps{
		Source:    a.clients.CIPAPI,
		Panels:    a.clients.PanelApp,
		Genes:     a.clients.GeneNames,
		Annotator: a.clients.Ensembl,
		Cases:     a.cases,
		Updates:   a.updates,
		Publisher: a.publisher,
		Progress:  progress,
	}, a.config.Ingest, a.logger), nil
}

func (a *app) newNotifier() *notify.Notifier {
	mailer := notify.NewMailer(a.config.Email, a.logger)
	return notify.NewNotifier(mailer, a.caseService, a.alerts, a.updates, a.config.Email, a.logger)
}

// newScheduler registers the standard jobs. The notifier is attached only
// when the alert store is open.
func (a *app) newScheduler(ingester scheduler.Ingester) (*scheduler.Scheduler, error) {
	var locker scheduler.Locker
	if a.cache != nil {
		locker = a.cache
	}
	s := scheduler.New(locker, a.config.Schedule.LockTTL, a.logger)

	sampleTypes, err := parseSampleTypes(a.config.Ingest.SampleTypes)
	if err != nil {
		return nil, err
	}

	var notifier *notify.Notifier
	if a.alerts != nil {
		notifier = a.newNotifier()
	}
	if err := scheduler.Register(s, a.config.Schedule, ingester, sampleTypes, notifier); err != nil {
		return nil, fmt.Errorf("registering jobs: %w", err)
	}
	return s, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Error during shutdown")
		}
	}
	a.closers = nil
}
