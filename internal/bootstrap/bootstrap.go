package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/config"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/usecase"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/attachcache"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/export/xlsx"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/extractor/pdftext"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/llm/classification"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/llm/ollama"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/llm/openai"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/mailbox"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/queue/nats"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/repository/postgres"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/resilience"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/routing"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/storage/localfs"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/storage/s3"
)

// Options carries the observers owned by the calling binary.
type Options struct {
	Metrics    ports.PipelineMetrics
	ObserveLag func(time.Duration)
}

type App struct {
	Config config.Config

	Queue     ports.MessageQueue
	Records   ports.RecordReader
	Analyzer  ports.EmailProcessor
	Forwarder ports.ManualForwarder
	Editor    ports.RecordEditor
	Ingestor  ports.InboxIngestor
	Exporter  ports.RecordExporter

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	executor := resilience.NewExecutor(resilienceConfig(cfg))

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewAnalysisRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		HandlerTimeout:     cfg.EmailProcessTimeout,
		Concurrency:        cfg.WorkerConcurrency,
		ObserveLag:         opts.ObserveLag,
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	closeAll := func() {
		queue.Close()
		_ = db.Close()
	}

	recipients, err := newRecipientResolver(cfg)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init forwarding rules: %w", err)
	}
	categories := classifierCategories(cfg, recipients)

	classifier, err := newClassifier(cfg, categories, executor)
	if err != nil {
		closeAll()
		return nil, err
	}

	sender, err := newSender(cfg)
	if err != nil {
		closeAll()
		return nil, err
	}
	gateway := mailbox.NewGateway(
		mailbox.NewIMAPClient(mailbox.IMAPConfig{
			Host:     cfg.IMAPHost,
			Port:     cfg.IMAPPort,
			Username: cfg.IMAPUsername,
			Password: cfg.IMAPPassword,
			TLS:      cfg.IMAPTLS,
			Window:   cfg.IMAPWindow,
		}),
		sender,
		sendLimiter(cfg),
		executor,
	)

	forwardFrom := cfg.ForwardFrom
	if forwardFrom == "" {
		forwardFrom = cfg.IMAPUsername
	}

	dispatcher := usecase.NewDispatcher(classifier, attachcache.New(gateway, storage), opts.Metrics, cfg.AttachmentConcurrency)
	forwardingExecutor := usecase.NewForwardingExecutor(gateway, recipients, opts.Metrics, forwardFrom)
	forwardUC := usecase.NewForwardUseCase(repo, gateway, forwardingExecutor, cfg.ProcessedFolder)
	analyzeUC := usecase.NewAnalyzeEmailUseCase(repo, gateway, dispatcher, forwardUC, opts.Metrics)
	editUC := usecase.NewEditRecordUseCase(repo)
	ingestUC := usecase.NewIngestInboxUseCase(gateway, repo, queue, cfg.Mailbox)

	slog.Info("bootstrap_ready",
		"classifier", cfg.ClassifierProvider,
		"mail_sender", cfg.MailSender,
		"storage", cfg.StorageBackend,
		"categories", len(categories),
	)

	return &App{
		Config: cfg,

		Queue:     queue,
		Records:   repo,
		Analyzer:  analyzeUC,
		Forwarder: forwardUC,
		Editor:    editUC,
		Ingestor:  ingestUC,
		Exporter:  xlsx.NewExporter(time.Local),

		closeFn: closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	if cfg.RetryMaxAttempts > 0 {
		out.RetryMaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialBackoff > 0 {
		out.RetryInitialBackoff = cfg.RetryInitialBackoff
	}
	if cfg.RetryMaxBackoff > 0 {
		out.RetryMaxBackoff = cfg.RetryMaxBackoff
	}
	if cfg.RetryMaxServerDelay > 0 {
		out.RetryMaxServerDelay = cfg.RetryMaxServerDelay
	}
	out.BreakerEnabled = cfg.BreakerEnabled
	return out
}

func newObjectStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch cfg.StorageBackend {
	case "", "localfs":
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		return storage, nil
	case "s3":
		store, err := s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func newRecipientResolver(cfg config.Config) (*routing.Resolver, error) {
	var (
		resolver *routing.Resolver
		err      error
	)
	if cfg.ForwardingRulesPath != "" {
		resolver, err = routing.Load(cfg.ForwardingRulesPath)
	} else {
		resolver, err = routing.NewStatic(routing.SplitList(cfg.ForwardRecipients))
	}
	if err != nil {
		return nil, err
	}
	if err := resolver.Validate(); err != nil {
		slog.Warn("forwarding_rules_empty", "error", err)
	}
	return resolver, nil
}

// classifierCategories prefers the explicit list, then the categories that have a
// forwarding rule, then the built-in defaults.
func classifierCategories(cfg config.Config, resolver *routing.Resolver) []string {
	if len(cfg.Categories) > 0 {
		return cfg.Categories
	}
	if ruled := resolver.Categories(); len(ruled) > 0 {
		return ruled
	}
	return classification.DefaultCategories
}

func newClassifier(cfg config.Config, categories []string, executor *resilience.Executor) (ports.Classifier, error) {
	pdf := pdftext.NewExtractor(cfg.PDFMaxTextBytes)
	switch cfg.ClassifierProvider {
	case "", "openai":
		return openai.NewClassifier(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			TextModel:   cfg.OpenAITextModel,
			VisionModel: cfg.OpenAIVisionModel,
			Timeout:     cfg.OpenAITimeout,
		}, categories, pdf, executor), nil
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaTextModel, cfg.OllamaVisionModel, executor)
		return ollama.NewClassifier(client, categories, pdf), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.ClassifierProvider)
	}
}

func newSender(cfg config.Config) (mailbox.Sender, error) {
	switch cfg.MailSender {
	case "", "smtp":
		return mailbox.NewSMTPSender(mailbox.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			TLS:      cfg.SMTPTLS,
		}), nil
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("SENDGRID_API_KEY is required for the sendgrid mail sender")
		}
		return mailbox.NewSendGridSender(mailbox.SendGridConfig{
			APIKey:   cfg.SendGridAPIKey,
			FromName: cfg.SendGridFromName,
		}), nil
	default:
		return nil, fmt.Errorf("unknown mail sender %q", cfg.MailSender)
	}
}

func sendLimiter(cfg config.Config) *rate.Limiter {
	if cfg.SendRatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.SendRatePerSecond), burst)
}
