// Package app assembles the sync core from configuration. Both binaries and
// the end-to-end tests build on it.
package app

import (
	"context"
	"sync"

	"github.com/kimhsiao/homeinventory/internal/config"
	"github.com/kimhsiao/homeinventory/internal/db"
	"github.com/kimhsiao/homeinventory/internal/inventory"
	"github.com/kimhsiao/homeinventory/internal/logging"
	"github.com/kimhsiao/homeinventory/internal/remote"
	"github.com/kimhsiao/homeinventory/internal/remote/objectstore"
	syncpkg "github.com/kimhsiao/homeinventory/internal/sync"
	"github.com/kimhsiao/homeinventory/internal/sync/connectivity"
	"github.com/kimhsiao/homeinventory/internal/sync/queue"
	"github.com/kimhsiao/homeinventory/internal/sync/scheduler"
	"github.com/kimhsiao/homeinventory/internal/sync/status"
)

// Options overrides parts of the assembly. Zero values build everything from Config.
type Options struct {
	Config *config.Config
	// Database, when set, is used instead of opening Config.Database.DataDir.
	Database *db.DB
	// Remote and Images replace the HTTP and object store clients.
	Remote syncpkg.RemoteService
	Images syncpkg.ImageService
	// Online is the initial belief when no prober runs.
	Online bool
}

// App holds the wired components.
type App struct {
	Config       *config.Config
	DB           *db.DB
	Repo         *db.Repository
	Queue        *queue.Queue
	Engine       *syncpkg.Engine
	Connectivity *connectivity.Observer
	Prober       *connectivity.Prober // nil when PROBE_URL is empty
	Scheduler    *scheduler.Scheduler
	Status       *status.Watcher
	Inventory    *inventory.Service

	log      *logging.Logger
	ownsDB   bool
	mu       sync.RWMutex
	handlers map[int]syncpkg.SyncEventHandler
	nextID   int
}

// New wires the components. Nothing runs until Start.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	a := &App{
		Config:   cfg,
		log:      logging.Get().Component("app"),
		handlers: make(map[int]syncpkg.SyncEventHandler),
	}

	a.DB = opts.Database
	if a.DB == nil {
		database, err := db.Open(cfg.Database.DataDir)
		if err != nil {
			return nil, err
		}
		a.DB = database
		a.ownsDB = true
	}
	a.Repo = db.NewRepository(a.DB.DB)

	remoteSvc := opts.Remote
	if remoteSvc == nil {
		remoteSvc = remote.NewFromConfig(cfg.Remote)
	}

	images := opts.Images
	if images == nil && cfg.ImagesEnabled() {
		client, err := objectstore.New(cfg.ObjectStore)
		if err != nil {
			a.Close()
			return nil, err
		}
		images = objectstore.NewImageUploader(client, 0)
	}
	if images == nil {
		a.log.Warn("object store not configured, photos stay on the device", nil)
	}

	online := opts.Online
	if cfg.Sync.ProbeURL != "" {
		online = false
	}
	a.Connectivity = connectivity.NewObserver(online)
	if cfg.Sync.ProbeURL != "" {
		a.Prober = connectivity.NewProber(a.Connectivity, connectivity.ProberConfig{
			URL:      cfg.Sync.ProbeURL,
			Interval: cfg.Sync.ProbeInterval,
			Timeout:  cfg.Remote.Timeout,
		})
	}

	a.Queue = queue.New(a.Repo, nil)
	a.Engine = syncpkg.NewEngine(a.Repo, remoteSvc, images, a.Connectivity, &syncpkg.Config{
		MaxRetries: cfg.Sync.MaxRetries,
	})
	a.Scheduler = scheduler.NewScheduler(a.Engine, a.Queue, a.Connectivity, &scheduler.SchedulerConfig{
		Interval: cfg.Sync.Interval,
	})
	a.Status = status.NewWatcher(a.Repo, a.Engine, a.Connectivity, cfg.Sync.StatusRefreshInterval)
	a.Inventory = inventory.NewService(a.Repo, a.Queue, nil)
	a.Inventory.SetTrigger(a.Scheduler.TriggerNow)

	// Every source of change recomputes the status.
	a.Queue.Subscribe(func(queue.Change) { a.Status.Refresh() })
	a.Connectivity.Subscribe(func(bool) { a.Status.Refresh() })
	a.Engine.SetEventHandler(syncpkg.SyncEventHandlerFunc(a.onSyncEvent))

	return a, nil
}

func (a *App) onSyncEvent(event syncpkg.SyncEvent) {
	switch event.Type {
	case syncpkg.SyncEventStarted, syncpkg.SyncEventCompleted, syncpkg.SyncEventHalted,
		syncpkg.SyncEventEntrySynced, syncpkg.SyncEventEntryPoisoned:
		a.Status.Refresh()
	}

	a.mu.RLock()
	handlers := make(syncpkg.MultiHandler, 0, len(a.handlers))
	for _, h := range a.handlers {
		handlers = append(handlers, h)
	}
	a.mu.RUnlock()
	handlers.OnSyncEvent(event)
}

// SubscribeEvents forwards engine events to h and returns a function that stops it.
func (a *App) SubscribeEvents(h syncpkg.SyncEventHandler) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.handlers[id] = h
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.handlers, id)
	}
}

// Start runs the prober, status poll and scheduler under ctx.
func (a *App) Start(ctx context.Context) {
	if a.Prober != nil {
		a.Prober.Start(ctx)
	}
	a.Status.Start(ctx)
	a.Scheduler.Start(ctx)
	a.Status.Refresh()
}

// Stop halts background work and waits for a running drain to return.
func (a *App) Stop() {
	a.Scheduler.Stop()
	a.Status.Stop()
	if a.Prober != nil {
		a.Prober.Stop()
	}
}

// Close stops background work and releases the store.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Stop()
	}
	var err error
	if a.Repo != nil {
		err = a.Repo.Close()
	}
	if a.ownsDB && a.DB != nil {
		if cerr := a.DB.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
