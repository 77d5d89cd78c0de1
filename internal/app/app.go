// Package app 根据配置组装各个组件，供HTTP服务和命令行导入工具共用
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/config"
	"github.com/fyerfyer/pdf-QA-system/internal/cache"
	"github.com/fyerfyer/pdf-QA-system/internal/database"
	"github.com/fyerfyer/pdf-QA-system/internal/document"
	"github.com/fyerfyer/pdf-QA-system/internal/drive"
	"github.com/fyerfyer/pdf-QA-system/internal/embedding"
	"github.com/fyerfyer/pdf-QA-system/internal/llm"
	"github.com/fyerfyer/pdf-QA-system/internal/repository"
	"github.com/fyerfyer/pdf-QA-system/internal/services"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
	"github.com/fyerfyer/pdf-QA-system/pkg/storage"
	"github.com/fyerfyer/pdf-QA-system/pkg/taskqueue"
)

// App 组装好的组件
type App struct {
	Config *config.Config
	Logger *logrus.Logger

	Vectors  vectordb.Repository
	Embedder embedding.Client
	LLM      llm.Client
	Cache    cache.Cache // 未启用时为nil
	Images   storage.Storage
	Uploader drive.Uploader
	Files    repository.FileRepository
	Queue    taskqueue.Queue  // 未启用时为nil
	Worker   taskqueue.Worker // 未启用时为nil

	Ingest *services.IngestService
	QA     *services.QAService
	Tags   *services.TagService

	components map[string]string
}

// Options 组装时可以跳过的部分
type Options struct {
	SkipLLM   bool // 命令行导入不需要问答
	SkipQueue bool
}

// New 按配置创建全部组件，失败时关闭已创建的部分
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts Options) (*App, error) {
	a := &App{
		Config:     cfg,
		Logger:     logger,
		components: map[string]string{},
	}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"components": a.components,
	}).Info("Application components initialized")
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	if err := a.setupDatabase(); err != nil {
		return err
	}
	if err := a.setupCache(); err != nil {
		return err
	}
	if err := a.setupStorage(); err != nil {
		return err
	}
	if err := a.setupVectorDB(); err != nil {
		return err
	}
	if err := a.setupEmbedding(); err != nil {
		return err
	}
	a.setupDrive(ctx)

	a.Files = repository.NewFileRepository()
	imageRepo := repository.NewImageRepository()
	ledger := services.NewFileStatusManager(a.Files, a.Logger)

	ingestOpts := []services.IngestOption{
		services.WithIngestLogger(a.Logger),
		services.WithIDScheme(services.ParseIDScheme(cfg.Ingest.IDScheme)),
		services.WithTextLimit(cfg.Ingest.TextLimit),
		services.WithImageStorage(a.Images),
		services.WithDriveUploader(a.Uploader),
		services.WithImageRepository(imageRepo),
		services.WithLedger(ledger),
		services.WithRenderPages(cfg.Ingest.RenderPages),
	}
	if renderer := a.setupRenderer(); renderer != nil {
		ingestOpts = append(ingestOpts, services.WithRenderer(renderer))
	}
	extractor := document.NewPDFExtractor(
		document.WithExtractorLogger(a.Logger),
		document.WithImages(cfg.Ingest.ExtractImages),
	)
	a.Ingest = services.NewIngestService(extractor, a.Embedder, a.Vectors, ingestOpts...)
	a.Tags = services.NewTagService(a.Images, a.Vectors, imageRepo, a.Logger)

	if !opts.SkipLLM {
		if err := a.setupQA(); err != nil {
			return err
		}
	}
	if !opts.SkipQueue && cfg.Queue.Enable {
		if err := a.setupQueue(); err != nil {
			return err
		}
	}
	return nil
}

// Components 组件名到实现方式，用于健康检查
func (a *App) Components() map[string]string {
	out := make(map[string]string, len(a.components))
	for k, v := range a.components {
		out[k] = v
	}
	return out
}

// StartWorker 启动队列工作者
func (a *App) StartWorker() error {
	if a.Worker == nil {
		return nil
	}
	return a.Worker.Start()
}

// Close 按创建的相反顺序释放资源
func (a *App) Close() {
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close task queue")
		}
	}
	if a.Vectors != nil {
		if err := a.Vectors.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close vector store")
		}
	}
	if closer, ok := a.Cache.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close cache")
		}
	}
	if err := database.Close(); err != nil {
		a.Logger.WithError(err).Warn("Failed to close database")
	}
}

func (a *App) setupDatabase() error {
	dbCfg := database.DefaultConfig()
	dbCfg.Type = a.Config.Database.Type
	dbCfg.DSN = a.Config.Database.DSN
	if err := database.Setup(dbCfg, a.Logger); err != nil {
		return fmt.Errorf("setup database: %w", err)
	}
	a.components["database"] = dbCfg.Type
	return nil
}

func (a *App) setupCache() error {
	c := a.Config.Cache
	if !c.Enable {
		return nil
	}
	svc, err := cache.NewCache(cache.Config{
		Type:            c.Type,
		RedisAddr:       c.Address,
		RedisPassword:   c.Password,
		RedisDB:         c.DB,
		KeyPrefix:       c.Prefix,
		DefaultTTL:      a.cacheTTL(),
		CleanupInterval: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("setup cache: %w", err)
	}
	a.Cache = svc
	a.components["cache"] = c.Type
	return nil
}

func (a *App) cacheTTL() time.Duration {
	if a.Config.Cache.TTL <= 0 {
		return time.Hour
	}
	return time.Duration(a.Config.Cache.TTL) * time.Second
}

func (a *App) setupStorage() error {
	s := a.Config.Storage
	st, err := storage.New(storage.Config{
		Type:  s.Type,
		Local: storage.LocalConfig{Path: s.Path},
		Minio: storage.MinioConfig{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			UseSSL:    s.UseSSL,
			Bucket:    s.Bucket,
			Prefix:    s.Prefix,
		},
	})
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}
	a.Images = st
	a.components["storage"] = s.Type
	return nil
}

func (a *App) setupVectorDB() error {
	v := a.Config.VectorDB
	vcfg := vectordb.Config{
		Type:         v.Type,
		Dimension:    v.Dimension,
		DistanceType: vectordb.DistanceType(v.Distance),
		Timeout:      v.Timeout,
	}
	switch v.Type {
	case "astra":
		vcfg.Endpoint = a.Config.Astra.Endpoint
		vcfg.Token = a.Config.Astra.Token
		vcfg.Namespace = a.Config.Astra.Keyspace
		vcfg.Collection = a.Config.Astra.Collection
	case "pgvector":
		vcfg.DSN = v.DSN
		vcfg.Collection = v.Table
	}

	repo, err := vectordb.NewRepository(vcfg)
	if err != nil {
		return fmt.Errorf("setup vector store: %w", err)
	}
	a.Vectors = repo
	a.components["vectordb"] = v.Type
	return nil
}

func (a *App) setupEmbedding() error {
	e := a.Config.Embed
	opts := []embedding.Option{
		embedding.WithModel(e.Model),
		embedding.WithDimensions(e.Dimensions),
		embedding.WithBatchSize(e.BatchSize),
		embedding.WithTimeout(e.Timeout),
		embedding.WithMaxRetries(e.MaxRetries),
	}
	switch e.Provider {
	case "astra":
		opts = append(opts,
			embedding.WithBaseURL(a.Config.Astra.Endpoint),
			embedding.WithAPIKey(a.Config.Astra.Token),
		)
	case "openai":
		opts = append(opts,
			embedding.WithBaseURL(a.Config.OpenAI.BaseURL),
			embedding.WithAPIKey(a.Config.OpenAI.APIKey),
		)
	}

	client, err := embedding.NewClient(e.Provider, opts...)
	if err != nil {
		return fmt.Errorf("setup embedding client: %w", err)
	}

	if e.Fallback && e.Provider != "local" {
		local, err := embedding.NewLocalClient(embedding.WithDimensions(e.Dimensions))
		if err != nil {
			return fmt.Errorf("setup fallback embedding client: %w", err)
		}
		client = embedding.NewFallbackClient(client, local, a.Logger)
	}
	if a.Cache != nil {
		client = embedding.NewCachedClient(client, a.Cache, a.cacheTTL())
	}

	a.Embedder = client
	a.components["embedding"] = e.Provider
	return nil
}

// setupDrive 凭据缺失时只记录警告，图片仍保存在本地存储
func (a *App) setupDrive(ctx context.Context) {
	a.Uploader = drive.NoopUploader{}
	d := a.Config.Drive
	if !d.Enable {
		a.components["drive"] = "disabled"
		return
	}

	uploader, err := drive.New(ctx, drive.Config{
		TokenFile:       d.TokenFile,
		CredentialsFile: d.CredentialsFile,
		ParentFolderID:  d.ParentFolderID,
	}, a.Logger)
	if err != nil {
		entry := a.Logger.WithError(err)
		if errors.Is(err, drive.ErrNoCredentials) {
			entry = entry.WithField("token_file", d.TokenFile)
		}
		entry.Warn("Google Drive upload disabled")
		a.components["drive"] = "disabled"
		return
	}
	a.Uploader = uploader
	a.components["drive"] = "google"
}

func (a *App) setupRenderer() document.Renderer {
	in := a.Config.Ingest
	if !in.RenderPages {
		return nil
	}
	r := document.NewPdftoppmRenderer(in.Pdftoppm, in.RenderDPI)
	if !r.Available() {
		a.Logger.WithField("binary", r.Binary).Warn("pdftoppm not found, page rendering disabled")
		a.components["renderer"] = "disabled"
		return nil
	}
	a.components["renderer"] = "pdftoppm"
	return r
}

func (a *App) setupQA() error {
	l := a.Config.LLM
	client, err := llm.NewClient(l.Provider,
		llm.WithAPIKey(a.Config.OpenAI.APIKey),
		llm.WithBaseURL(a.Config.OpenAI.BaseURL),
		llm.WithModel(l.Model),
		llm.WithTimeout(l.Timeout),
		llm.WithMaxRetries(l.MaxRetries),
		llm.WithMaxTokens(l.MaxTokens),
		llm.WithTemperature(l.Temperature),
	)
	if err != nil {
		return fmt.Errorf("setup llm client: %w", err)
	}
	a.LLM = client

	template := llm.DefaultRAGTemplate
	if l.Template == "strict" {
		template = llm.StrictRAGTemplate
	}
	rag := llm.NewRAG(client,
		llm.WithTemplate(template),
		llm.WithRAGMaxTokens(l.MaxTokens),
		llm.WithRAGTemperature(l.Temperature),
		llm.WithRAGTimeout(l.Timeout),
		llm.WithSnippetLimit(a.Config.Search.SnippetLimit),
	)

	s := a.Config.Search
	qaOpts := []services.QAOption{
		services.WithQALogger(a.Logger),
		services.WithTopK(s.TopK),
		services.WithMinScore(s.MinScore),
		services.WithHTMLAnswer(s.RenderHTML),
		services.WithQueryLog(repository.NewQueryLogRepository()),
	}
	if s.CacheAnswers && a.Cache != nil {
		qaOpts = append(qaOpts, services.WithAnswerCache(a.Cache, a.cacheTTL()))
	}
	a.QA = services.NewQAService(a.Embedder, a.Vectors, rag, qaOpts...)
	a.components["llm"] = l.Provider + "/" + l.Model
	return nil
}

func (a *App) setupQueue() error {
	q := a.Config.Queue
	qcfg := &taskqueue.Config{
		RedisAddr:     q.RedisAddr,
		RedisPassword: q.RedisPassword,
		RedisDB:       q.RedisDB,
		Concurrency:   q.Concurrency,
		RetryLimit:    q.RetryLimit,
		RetryDelay:    time.Duration(q.RetryDelay) * time.Second,
		Logger:        a.Logger,
	}

	a.Logger.WithFields(logrus.Fields{
		"type":        q.Type,
		"redis_addr":  q.RedisAddr,
		"concurrency": q.Concurrency,
		"retry_limit": q.RetryLimit,
	}).Info("Setting up task queue")

	queue, err := taskqueue.NewQueue(q.Type, qcfg)
	if err != nil {
		return fmt.Errorf("setup task queue: %w", err)
	}
	a.Queue = queue

	switch impl := queue.(type) {
	case *taskqueue.MemoryQueue:
		a.Worker = impl
	case *taskqueue.RedisQueue:
		a.Worker = taskqueue.NewRedisWorker(impl)
	}
	if a.Worker != nil {
		a.Worker.RegisterHandler(taskqueue.TaskPDFIngest, services.NewIngestTaskHandler(a.Ingest, queue, a.Logger))
	}
	a.components["queue"] = q.Type
	return nil
}
