// Package daemon is the background process: it owns the store, the durable
// timers, the insertion pipeline and the scheduler, and serves panel clients
// over the unix-socket bridge. All state lives on disk; the daemon can be
// killed and restarted at any point and reconciles itself from the store.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/promptdock/promptdock/internal/agent"
	"github.com/promptdock/promptdock/internal/bridge"
	"github.com/promptdock/promptdock/internal/clipboard"
	"github.com/promptdock/promptdock/internal/events"
	"github.com/promptdock/promptdock/internal/lock"
	"github.com/promptdock/promptdock/internal/logging"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/notify"
	"github.com/promptdock/promptdock/internal/pipeline"
	"github.com/promptdock/promptdock/internal/provision"
	"github.com/promptdock/promptdock/internal/scheduler"
	"github.com/promptdock/promptdock/internal/store"
	"github.com/promptdock/promptdock/internal/tabs"
	"github.com/promptdock/promptdock/internal/timer"
)

// Daemon is the promptdock background process.
type Daemon struct {
	baseDir string
	config  model.Config
	logger  *logging.Logger
	logFile io.Closer

	fileLock *lock.FileLock
	server   *bridge.Server
	watcher  *fsnotify.Watcher

	store       store.Store
	storeCloser io.Closer
	timers      *timer.Durable
	bus         *events.Bus
	audit       *events.AuditLogger

	tabs      tabs.Service
	transport agent.Transport
	injector  provision.Injector
	clip      pipeline.Clipboard

	provisioner *provision.Provisioner
	pipe        *pipeline.Pipeline
	sched       *scheduler.Scheduler
	monitor     *Monitor

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a daemon rooted at baseDir, logging to <baseDir>/logs/daemon.log.
func New(baseDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(baseDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	return newDaemon(baseDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(baseDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	server := bridge.NewServer(filepath.Join(baseDir, bridge.DefaultSocketName))
	server.SetConnTimeout(time.Duration(cfg.Daemon.ConnTimeoutSec) * time.Second)

	d := &Daemon{
		baseDir:   baseDir,
		config:    cfg,
		logger:    logging.New(w, logging.ParseLevel(cfg.Logging.Level), "daemon"),
		logFile:   closer,
		fileLock:  lock.NewFileLock(filepath.Join(baseDir, "locks", "daemon.lock")),
		server:    server,
		tabs:      disabledTabs{},
		transport: disabledTransport{},
		injector:  disabledInjector{},
		clip:      clipboard.NewSystem(),
		ctx:       ctx,
		cancel:    cancel,
	}
	return d, nil
}

// SetBrowser wires the live browser collaborators. Must be called before
// Run(); without it the daemon serves library and schedule operations but
// refuses tab-facing ones.
func (d *Daemon) SetBrowser(ts tabs.Service, inj provision.Injector, tr agent.Transport) {
	d.tabs = ts
	d.injector = inj
	d.transport = tr
}

// SetClipboard overrides the OS clipboard, for tests.
func (d *Daemon) SetClipboard(cb pipeline.Clipboard) {
	d.clip = cb
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Infof("daemon starting pid=%d dir=%s", os.Getpid(), d.baseDir)

	if err := d.openStore(); err != nil {
		d.fileLock.Unlock()
		return err
	}

	timers, err := timer.NewDurable(filepath.Join(d.baseDir, "timers"))
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open timers: %w", err)
	}
	d.timers = timers

	d.bus = events.NewBus(64)
	audit, err := events.NewAuditLogger(filepath.Join(d.baseDir, "logs", "audit.jsonl"))
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	d.audit.Attach(d.bus,
		events.EventPromptInserted,
		events.EventPromptCompleted,
		events.EventAgentProvisioned,
		events.EventScheduleArmed,
		events.EventScheduleFired,
		events.EventScheduleCancelled,
		events.EventScheduleExpired,
		events.EventOrphanCleared,
		events.EventCorruptDiscarded,
	)

	d.wire()

	if err := d.sched.ReconcileOnStart(); err != nil {
		d.logger.Errorf("reconcile on start: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	storeDir := filepath.Join(d.baseDir, "store")
	if err := watcher.Add(storeDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", storeDir, err)
	}

	d.registerHandlers()

	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start bridge server: %w", err)
	}
	d.logger.Infof("bridge listening on %s", filepath.Join(d.baseDir, bridge.DefaultSocketName))

	d.wg.Add(2)
	go d.fireLoop()
	go d.watcherLoop()

	d.logger.Infof("daemon ready")
	d.waitSignals()

	return nil
}

func (d *Daemon) openStore() error {
	storeDir := filepath.Join(d.baseDir, "store")
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	switch d.config.Store.Backend {
	case "", "file":
		fs, err := store.NewFileStore(storeDir)
		if err != nil {
			return fmt.Errorf("open file store: %w", err)
		}
		d.store = fs
	case "sqlite":
		ss, err := store.NewSQLiteStore(filepath.Join(storeDir, "library.db"))
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		d.store = ss
		d.storeCloser = ss
	default:
		return fmt.Errorf("unknown store backend %q", d.config.Store.Backend)
	}
	return nil
}

// wire builds the pipeline stack on top of whatever collaborators are set.
func (d *Daemon) wire() {
	d.provisioner = provision.New(d.transport, d.injector,
		provision.ConfigFrom(d.config.Provision), d.logger.WithComponent("provision"))
	d.pipe = pipeline.New(d.tabs, d.provisioner, d.transport, d.clip,
		pipeline.ConfigFrom(d.config.Pipeline), d.logger.WithComponent("pipeline"))
	d.sched = scheduler.New(d.store, d.timers, d.pipe, d.tabs, d.bus,
		scheduler.ConfigFrom(d.config.Scheduler), d.logger.WithComponent("scheduler"))
	d.monitor = NewMonitor(d.pipe, d.store, d.bus, d.config.Monitor,
		d.logger.WithComponent("monitor"))

	d.bus.Subscribe(events.EventScheduleFired, func(e events.Event) {
		title := "Scheduled prompt"
		msg := "A scheduled prompt fired"
		if ok, _ := e.Data["success"].(bool); !ok {
			msg = "A scheduled prompt failed to insert"
		}
		if err := notify.Send(title, msg); err != nil {
			d.logger.Debugf("notify: %v", err)
		}
	})
}

// fireLoop feeds durable timer fires into the scheduler.
func (d *Daemon) fireLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case fire, ok := <-d.timers.Fires():
			if !ok {
				return
			}
			d.logger.Debugf("timer fired id=%s scheduled_at=%s", fire.ID, fire.ScheduledAt.Format(time.RFC3339))
			if err := d.sched.OnFire(d.ctx, fire.ID); err != nil {
				d.logger.Errorf("on fire %s: %v", fire.ID, err)
			}
		}
	}
}

// watcherLoop observes store directory writes. The daemon never caches the
// library, so an external writer needs no invalidation; changes are logged so
// audit can correlate them.
func (d *Daemon) watcherLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.logger.Debugf("store changed op=%s file=%s", event.Op, event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Errorf("fsnotify error=%v", err)
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.logger.Infof("received signal=%s, initiating graceful shutdown", sig)

	// Second signal forces exit.
	go func() {
		<-sigCh
		d.logger.Warnf("received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Infof("shutdown started")

		d.cancel()

		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}
		if d.timers != nil {
			d.timers.Close()
		}

		timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			if d.monitor != nil {
				d.monitor.Wait()
			}
			close(done)
		}()

		select {
		case <-done:
			d.logger.Infof("all goroutines drained")
		case <-time.After(timeout):
			d.logger.Warnf("shutdown timeout after %s, some operations may be incomplete", timeout)
		}

		d.cleanup()
		d.logger.Infof("daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	os.Remove(filepath.Join(d.baseDir, bridge.DefaultSocketName))
	if d.audit != nil {
		d.audit.Close()
	}
	if d.storeCloser != nil {
		d.storeCloser.Close()
	}
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

// Browser-less collaborators. Library and schedule operations keep working;
// anything that needs a live tab reports the integration as disabled.

var errBrowserDisabled = fmt.Errorf("browser integration is disabled (set browser.enabled in config.yaml)")

type disabledTabs struct{}

func (disabledTabs) Query(context.Context, tabs.Filter) ([]tabs.Tab, error) {
	return nil, errBrowserDisabled
}
func (disabledTabs) Get(context.Context, int) (tabs.Tab, error) {
	return tabs.Tab{}, errBrowserDisabled
}
func (disabledTabs) Create(context.Context, string) (tabs.Tab, error) {
	return tabs.Tab{}, errBrowserDisabled
}
func (disabledTabs) Update(context.Context, int, string) (tabs.Tab, error) {
	return tabs.Tab{}, errBrowserDisabled
}
func (disabledTabs) ActiveTab(context.Context) (tabs.Tab, error) {
	return tabs.Tab{}, errBrowserDisabled
}
func (disabledTabs) Events() <-chan tabs.Event { return nil }

type disabledTransport struct{}

func (disabledTransport) Send(context.Context, int, agent.Message) (*agent.Response, error) {
	return nil, errBrowserDisabled
}

type disabledInjector struct{}

func (disabledInjector) Inject(context.Context, int) error { return errBrowserDisabled }
