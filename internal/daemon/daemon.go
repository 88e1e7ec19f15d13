// Package daemon hosts the long-running inboxd process: the projection
// store, the mutation engine, the event journal, and the UDS control socket,
// plus config hot reload and graceful shutdown.
package daemon

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"inboxd/internal/engine"
	"inboxd/internal/events"
	"inboxd/internal/lock"
	"inboxd/internal/model"
	"inboxd/internal/remote"
	"inboxd/internal/store"
	"inboxd/internal/uds"
)

// Daemon is the main inboxd daemon process.
type Daemon struct {
	dataDir    string
	configPath string

	cfgMu    sync.RWMutex
	config   model.Config
	logLevel engine.LogLevel

	logger  *log.Logger
	logFile io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	bus       *events.Bus
	journal   *events.Journal
	store     *store.Store
	service   *remote.SQLiteService
	presenter *engine.Presenter

	done     chan struct{}
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a Daemon rooted at dataDir, logging to logs/daemon.log.
func New(dataDir, configPath string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(dataDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(dataDir, configPath, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(dataDir, configPath string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	metricsInterval := cfg.Daemon.MetricsIntervalSec
	if metricsInterval <= 0 {
		metricsInterval = 60
	}

	d := &Daemon{
		dataDir:    dataDir,
		configPath: configPath,
		config:     cfg,
		logLevel:   engine.ParseLogLevel(cfg.Logging.Level),
		logger:     log.New(w, "", 0),
		logFile:    closer,
		fileLock:   lock.NewFileLock(filepath.Join(dataDir, "locks", "daemon.lock")),
		server:     uds.NewServer(filepath.Join(dataDir, uds.DefaultSocketName)),
		ticker:     time.NewTicker(time.Duration(metricsInterval) * time.Second),
		done:       make(chan struct{}),
	}
	d.server.SetLogger(d.logger)
	d.server.SetDebug(d.logLevel == engine.LogLevelDebug)
	return d, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(filepath.Join(d.dataDir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(engine.LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	// Engine assembly: bus, journal, projection store, durable backend.
	d.bus = events.NewBus(d.config.Engine.EventBufferSize)

	journal, err := events.NewJournal(filepath.Join(d.dataDir, "logs", "actions.jsonl"), 0)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open action journal: %w", err)
	}
	d.journal = journal
	d.bus.SubscribeAll(d.journal.Record)

	dbPath := d.config.Remote.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(d.dataDir, dbPath)
	}
	service, err := remote.OpenSQLite(dbPath)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open mutation backend: %w", err)
	}
	d.service = service

	d.store = store.New(d.bus)
	d.presenter = engine.New(d.config.Engine, d.store, d.bus, d.service, d.logger, d.logLevel)

	// Config hot reload.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	if err := watcher.Add(filepath.Dir(d.configPath)); err != nil {
		d.cleanup()
		return fmt.Errorf("watch config dir: %w", err)
	}

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(engine.LogLevelInfo, "UDS server listening on %s", filepath.Join(d.dataDir, uds.DefaultSocketName))

	d.wg.Add(2)
	go d.watchLoop()
	go d.tickerLoop()

	d.log(engine.LogLevelInfo, "daemon ready")
	d.waitSignals()
	return nil
}

// watchLoop reloads the config when its file changes on disk.
func (d *Daemon) watchLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Name != d.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(engine.LogLevelDebug, "config event=%s file=%s", event.Op, event.Name)
				d.reloadConfig()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(engine.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// reloadConfig re-reads the config file and pushes the new grace windows and
// log level into the running engine. A bad file keeps the previous config.
func (d *Daemon) reloadConfig() {
	cfg, err := model.LoadConfig(d.configPath)
	if err != nil {
		d.log(engine.LogLevelError, "config reload rejected error=%v", err)
		return
	}

	d.cfgMu.Lock()
	d.config = cfg
	d.logLevel = engine.ParseLogLevel(cfg.Logging.Level)
	d.cfgMu.Unlock()

	d.presenter.Reconfigure(cfg.Engine)
	d.server.SetDebug(engine.ParseLogLevel(cfg.Logging.Level) == engine.LogLevelDebug)
	d.log(engine.LogLevelInfo, "config reloaded level=%s", cfg.Logging.Level)
}

// tickerLoop logs engine counters and sweeps settled actions periodically.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case <-d.ticker.C:
			stats := d.presenter.Stats()
			d.log(engine.LogLevelInfo, "metrics entities=%d pending=%d committing=%d tracked=%d",
				stats["entities"], stats["actions_pending"], stats["actions_committing"], stats["actions_tracked"])
			d.presenter.SweepTerminal(terminalRetention)
		}
	}
}

// terminalRetention is how long settled actions stay queryable before the
// sweep discards them.
const terminalRetention = 10 * time.Minute

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		d.log(engine.LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)
		// Second signal forces exit.
		go func() {
			<-sigCh
			d.log(engine.LogLevelWarn, "received second signal, forcing exit")
			d.forceExit.Store(true)
			os.Exit(1)
		}()
	case <-d.done:
	}

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once). Pending
// actions are not force-committed; their optimistic state dies with the
// process and the durable backend keeps only confirmed mutations.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(engine.LogLevelInfo, "shutdown started")

		close(d.done)
		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		if d.presenter != nil && !d.presenter.Drain(timeout) {
			d.log(engine.LogLevelWarn, "shutdown timeout after %s, in-flight commits abandoned", timeout)
		}

		waited := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
			d.log(engine.LogLevelInfo, "all goroutines drained")
		case <-time.After(timeout):
			d.log(engine.LogLevelWarn, "background loops did not stop within %s", timeout)
		}

		d.cleanup()
		d.log(engine.LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	os.Remove(filepath.Join(d.dataDir, uds.DefaultSocketName))
	if d.bus != nil {
		d.bus.Close()
	}
	if d.journal != nil {
		d.journal.Close()
	}
	if d.service != nil {
		d.service.Close()
	}
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level engine.LogLevel, format string, args ...any) {
	d.cfgMu.RLock()
	min := d.logLevel
	d.cfgMu.RUnlock()
	if level < min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), engine.LevelString(level), msg)
}
