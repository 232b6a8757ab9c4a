package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"olx_monitor/config"
	"olx_monitor/events"
	"olx_monitor/httputil"
	"olx_monitor/logging"
	"olx_monitor/metrics"
	"olx_monitor/scraper"
	"olx_monitor/services"
	"olx_monitor/storage"
	"olx_monitor/telegram"
)

// app owns the process-wide dependencies. Everything is opened lazily so
// commands that only touch filters never dial Telegram or NATS.
type app struct {
	cfg     *config.Config
	logFile io.Closer

	repo      storage.Repository
	ops       storage.OpsStore
	searcher  scraper.Searcher
	sender    services.Sender
	publisher scraper.EventPublisher
	metrics   *metrics.Metrics

	closers []func() error
}

func (a *app) init() error {
	if a.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		a.cfg = cfg

		a.logFile = logging.Setup(logging.Options{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
	}
	if a.cfg.Catalog == nil {
		a.cfg.Catalog = config.DefaultCatalog()
	}
	return nil
}

func (a *app) repository(ctx context.Context) (storage.Repository, error) {
	if a.repo != nil {
		return a.repo, nil
	}

	switch a.cfg.Database.Driver {
	case "memory":
		log.Println("Using in-memory store, nothing will be persisted")
		a.repo = storage.NewMemoryStore()
	case "postgres", "":
		if a.cfg.Database.URL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
		pg, err := storage.NewPostgresStore(ctx, a.cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(a.cfg.Database.URL))
		a.repo = pg
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", a.cfg.Database.Driver)
	}

	a.closers = append(a.closers, a.repo.Close)
	return a.repo, nil
}

func (a *app) opsStore() (storage.OpsStore, error) {
	if a.ops != nil {
		return a.ops, nil
	}

	s, err := storage.NewSQLiteStore(a.cfg.Database.OpsDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	a.ops = s
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *app) orchestrator(ctx context.Context) (*scraper.Orchestrator, error) {
	repo, err := a.repository(ctx)
	if err != nil {
		return nil, err
	}
	ops, err := a.opsStore()
	if err != nil {
		return nil, err
	}

	clients := httputil.NewClients(a.cfg.Proxy, a.cfg.Search.Timeout)

	if a.searcher == nil {
		encoder := scraper.NewEncoder(scraper.NewStaticCatalog(a.cfg.Catalog))
		a.searcher = scraper.NewOLXClient(a.cfg.Search.APIURL, clients.Search, encoder, a.cfg.Search.MaxPages)
	}

	if a.sender == nil && a.cfg.Telegram.BotToken != "" {
		a.sender = telegram.NewClient(a.cfg.Telegram.APIURL, a.cfg.Telegram.BotToken, clients.Telegram)
	}
	var notifier *services.Notifier
	if a.sender != nil {
		throttle := services.NewChannelThrottle(a.cfg.Telegram.MediaInterval, nil)
		notifier = services.NewNotifier(a.sender, throttle, a.metrics)
	} else {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set, notifications disabled")
	}

	if a.publisher == nil && a.cfg.NATS.URL != "" {
		pub, err := events.NewPublisher(a.cfg.NATS.URL, a.cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Printf("Warning: NATS unavailable, listing events will not be published: %v", err)
		} else {
			a.publisher = pub
			a.closers = append(a.closers, func() error { pub.Close(); return nil })
		}
	}

	return scraper.NewOrchestrator(scraper.Deps{
		Searcher:    a.searcher,
		Filters:     repo,
		Listings:    repo,
		Subscribers: repo,
		History:     services.NewHistoryService(repo),
		Notifier:    notifier,
		Ops:         ops,
		Publisher:   a.publisher,
		Metrics:     a.metrics,
		Workers:     a.cfg.Monitor.Workers,
	}), nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("Warning: close: %v", err)
		}
	}
	a.closers = nil
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// maskConnectionString hides the password of a postgres URL.
func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3

	at := strings.LastIndex(connStr, "@")
	if at < start {
		return connStr
	}
	colon := strings.Index(connStr[start:at], ":")
	if colon < 0 {
		return connStr
	}
	return connStr[:start+colon+1] + "****" + connStr[at:]
}
