package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/stadspuls/eventpipe/internal/ai"
	"github.com/stadspuls/eventpipe/internal/config"
	"github.com/stadspuls/eventpipe/internal/coordination"
	"github.com/stadspuls/eventpipe/internal/coordinator"
	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/dedup"
	"github.com/stadspuls/eventpipe/internal/discovery"
	"github.com/stadspuls/eventpipe/internal/dlq"
	"github.com/stadspuls/eventpipe/internal/enrich"
	"github.com/stadspuls/eventpipe/internal/extract"
	"github.com/stadspuls/eventpipe/internal/fetch"
	"github.com/stadspuls/eventpipe/internal/healer"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/metrics"
	"github.com/stadspuls/eventpipe/internal/normalize"
	"github.com/stadspuls/eventpipe/internal/notify"
	"github.com/stadspuls/eventpipe/internal/trigger"
	"github.com/stadspuls/eventpipe/internal/worker"
)

// app holds every wired component. Commands pick what they need.
type app struct {
	cfg      *config.Config
	logger   logger.Interface
	db       *sqlx.DB
	redis    *redis.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	sources   *database.SourceRepository
	jobs      *database.JobRepository
	events    *database.EventRepository
	staging   *database.StagingRepository
	repairs   *database.RepairRepository
	dlqRepo   *database.DLQRepository
	discRepo  *database.DiscoveryRepository
	health    *database.HealthRepository
	errorLogs *database.ErrorLogRepository

	notifier    *notify.Notifier
	coordinator *coordinator.Coordinator
	worker      *worker.Worker
	dlq         *dlq.Service
	discovery   *discovery.Service
	healer      *healer.Healer
	enrich      *enrich.Service // nil without an OpenAI key
}

// newApp connects infrastructure and wires the pipeline services.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.NewPostgresConnection(database.Config{
		URL:     cfg.Database.URL,
		Host:    cfg.Database.Host,
		Port:    cfg.Database.Port,
		User:    cfg.Database.User,
		Pass:    cfg.Database.Pass,
		Name:    cfg.Database.Name,
		SSLMode: cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	a := &app{
		cfg:      cfg,
		logger:   log,
		db:       db,
		redis:    rdb,
		registry: prometheus.NewRegistry(),
	}
	a.metrics = metrics.New(a.registry)

	a.sources = database.NewSourceRepository(db)
	a.jobs = database.NewJobRepository(db)
	a.events = database.NewEventRepository(db)
	a.staging = database.NewStagingRepository(db)
	a.repairs = database.NewRepairRepository(db)
	a.dlqRepo = database.NewDLQRepository(db)
	a.discRepo = database.NewDiscoveryRepository(db)
	a.health = database.NewHealthRepository(db)
	a.errorLogs = database.NewErrorLogRepository(db)

	a.notifier = notify.New(cfg.Slack.WebhookURL, log)

	// The LLM capabilities degrade independently: no Gemini key means no
	// AI extraction, embeddings, healing or discovery validation, but the
	// deterministic pipeline keeps running.
	var cardExtractor extract.CardExtractor
	var embedder dedup.Embedder
	var aiNormalizer normalize.AINormalizer
	var selectorHealer worker.SelectorHealer
	var diagnoser healer.Diagnoser
	var validator discovery.Validator
	if cfg.AI.GeminiAPIKey != "" {
		gemini, geminiErr := ai.NewGemini(ctx, cfg.AI.GeminiAPIKey, log)
		if geminiErr != nil {
			return nil, geminiErr
		}
		cardExtractor = gemini
		embedder = gemini
		aiNormalizer = gemini
		selectorHealer = gemini
		diagnoser = gemini
		validator = gemini
	} else {
		log.Warn("no Gemini API key configured, LLM capabilities disabled")
	}

	static := fetch.NewStaticFetcher(cfg.Scraper.FetchTimeout)
	headless := fetch.NewHeadlessFetcher(cfg.Scraper.FetchTimeout, log)
	proxy := fetch.NewProxyFetcher(cfg.Scraper.ProxyAPIKey, "", cfg.Scraper.FetchTimeout)
	fetchClient := fetch.NewClient(static, headless, proxy, log)

	extractor := extract.NewWaterfall(cardExtractor, log)
	normalizer := normalize.New(cfg.Scraper.TargetEventYear, aiNormalizer, log)
	deduper := dedup.NewLadder(a.events, embedder, log)
	waker := trigger.New(log)

	a.dlq = dlq.New(a.dlqRepo, a.jobs, coordination.NewAlertLatch(rdb, "dlq-depth"),
		a.notifier, a.metrics, log)

	a.coordinator = coordinator.New(a.sources, a.jobs,
		coordination.NewTickMutex(rdb, "coordinator", 0),
		a.notifier, waker, endpointURL(cfg.Service.WorkerURL, "/worker"), log)

	a.worker = worker.New(a.jobs, a.sources, a.events, a.staging, a.repairs,
		a.dlq, fetchClient, extractor, normalizer, deduper, selectorHealer,
		a.notifier, waker, a.metrics, worker.Config{
			BatchSize:    cfg.Scraper.BatchSize,
			QuarantineAt: cfg.Scraper.MaxConsecutiveErrors,
			SelfURL:      endpointURL(cfg.Service.WorkerURL, "/worker"),
			EnrichStaged: cfg.AI.OpenAIAPIKey != "",
		}, log)

	a.discovery = discovery.New(a.discRepo, a.sources,
		discovery.NewSerperClient(cfg.AI.SerperAPIKey, cfg.AI.SearchTimeout, log),
		static, validator, waker,
		endpointURL(cfg.Service.WorkerURL, "/discovery-worker"), log)

	a.healer = healer.New(a.sources, fetchClient, diagnoser, a.repairs,
		coordination.NewTickMutex(rdb, "healer", 0), a.metrics, log)

	if cfg.AI.OpenAIAPIKey != "" {
		enricher, enrichErr := ai.NewEnricher(cfg.AI.OpenAIAPIKey, log)
		if enrichErr != nil {
			return nil, enrichErr
		}
		a.enrich = enrich.New(a.staging, a.events, enricher, a.metrics, log)
	}

	return a, nil
}

// Close releases infrastructure connections.
func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("failed to close redis", "error", err)
	}
}

// endpointURL joins the service base URL with an endpoint path. An
// empty base disables chain triggers.
func endpointURL(base, path string) string {
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + path
}
