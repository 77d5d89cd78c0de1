package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/internal/cache"
	"github.com/fyerfyer/pdf-QA-system/internal/embedding"
	"github.com/fyerfyer/pdf-QA-system/internal/llm"
	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"github.com/fyerfyer/pdf-QA-system/internal/repository"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
)

// 界面上显示的问答提示
const (
	MsgNoMatch     = "❌ Eşleşen içerik bulunamadı."
	msgLLMErrorFmt = "❌ GPT yanıt hatası: %s"
)

// ErrEmptyQuestion 问题为空
var ErrEmptyQuestion = errors.New("question cannot be empty")

// Answer 一次问答的结果
type Answer struct {
	Question string          `json:"question"`
	Answer   string          `json:"answer"`
	HTML     string          `json:"html,omitempty"`
	Context  string          `json:"context,omitempty"`
	Sources  []models.Source `json:"sources"`
	Cached   bool            `json:"cached"`
	NoMatch  bool            `json:"no_match"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"-"`
}

// QAService 问答服务
// 问题向量化后取最相近的若干条记录作为上下文交给模型
type QAService struct {
	embedder  embedding.Client
	vectors   vectordb.Repository
	rag       *llm.RAGService
	cache     cache.Cache
	queryLogs repository.QueryLogRepository
	logger    *logrus.Logger

	topK         int
	minScore     float32
	types        []vectordb.RecordType
	cacheTTL     time.Duration
	cacheAnswers bool
	renderHTML   bool
}

// QAOption 问答服务配置选项
type QAOption func(*QAService)

// WithQALogger 设置日志记录器
func WithQALogger(logger *logrus.Logger) QAOption {
	return func(s *QAService) {
		s.logger = logger
	}
}

// WithTopK 设置检索条数
func WithTopK(k int) QAOption {
	return func(s *QAService) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithMinScore 设置最低相似度
func WithMinScore(score float32) QAOption {
	return func(s *QAService) {
		s.minScore = score
	}
}

// WithAnswerCache 启用回答缓存
func WithAnswerCache(c cache.Cache, ttl time.Duration) QAOption {
	return func(s *QAService) {
		s.cache = c
		s.cacheTTL = ttl
		s.cacheAnswers = c != nil
	}
}

// WithQueryLog 设置问答记录仓储
func WithQueryLog(repo repository.QueryLogRepository) QAOption {
	return func(s *QAService) {
		s.queryLogs = repo
	}
}

// WithHTMLAnswer 是否把回答从Markdown渲染为HTML
func WithHTMLAnswer(enable bool) QAOption {
	return func(s *QAService) {
		s.renderHTML = enable
	}
}

// NewQAService 创建问答服务
func NewQAService(embedder embedding.Client, vectors vectordb.Repository, rag *llm.RAGService, opts ...QAOption) *QAService {
	s := &QAService{
		embedder: embedder,
		vectors:  vectors,
		rag:      rag,
		logger:   logrus.New(),
		topK:     3,
		types: []vectordb.RecordType{
			vectordb.TypeText,
			vectordb.TypeImage,
			vectordb.TypeRenderedPage,
		},
		renderHTML: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask 回答问题
// 没有命中记录或模型调用失败时，Answer中是可直接展示的提示文本
func (s *QAService) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	start := time.Now()
	logger := s.logger.WithField("question", llm.Truncate(question, 80))

	cacheKey := cache.GenerateCacheKey("answer", question)
	if s.cacheAnswers {
		var cached Answer
		found, err := cache.GetJSON(ctx, s.cache, cacheKey, &cached)
		if err != nil {
			logger.WithError(err).Warn("Failed to read answer cache")
		}
		if found {
			cached.Cached = true
			cached.Duration = time.Since(start)
			s.record(ctx, &cached)
			return &cached, nil
		}
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		logger.WithError(err).Error("Failed to embed question")
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := s.vectors.Search(ctx, vector, vectordb.SearchFilter{
		Types:      s.types,
		MinScore:   s.minScore,
		MaxResults: s.topK,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to search vector store")
		return nil, fmt.Errorf("search: %w", err)
	}

	ans := &Answer{Question: question}
	if len(results) == 0 {
		ans.NoMatch = true
		ans.Answer = MsgNoMatch
		ans.Duration = time.Since(start)
		s.record(ctx, ans)
		return ans, nil
	}

	items := contextItems(results)
	ans.Sources = sourcesOf(items)

	resp, err := s.rag.Answer(ctx, question, items)
	if resp != nil {
		ans.Context = resp.Context
	}
	if err != nil {
		logger.WithError(err).Error("Failed to generate answer")
		ans.Error = err.Error()
		ans.Answer = fmt.Sprintf(msgLLMErrorFmt, err.Error())
		ans.Duration = time.Since(start)
		s.record(ctx, ans)
		return ans, nil
	}

	ans.Answer = strings.TrimSpace(resp.Answer)
	if s.renderHTML {
		ans.HTML = RenderMarkdown(ans.Answer)
	}
	ans.Duration = time.Since(start)

	if s.cacheAnswers {
		if err := cache.SetJSON(ctx, s.cache, cacheKey, ans, s.cacheTTL); err != nil {
			logger.WithError(err).Warn("Failed to write answer cache")
		}
	}
	s.record(ctx, ans)

	logger.WithFields(logrus.Fields{
		"sources":  len(items),
		"duration": ans.Duration.String(),
	}).Info("Question answered")
	return ans, nil
}

// record 写入问答记录，失败只记录日志
func (s *QAService) record(ctx context.Context, ans *Answer) {
	if s.queryLogs == nil {
		return
	}
	sources, _ := json.Marshal(ans.Sources)
	entry := &models.QueryLog{
		Question:   ans.Question,
		Answer:     ans.Answer,
		Context:    ans.Context,
		Sources:    sources,
		Model:      s.rag.Client.Name(),
		DurationMs: ans.Duration.Milliseconds(),
		Cached:     ans.Cached,
		Error:      ans.Error,
	}
	if err := s.queryLogs.WithContext(ctx).Create(entry); err != nil {
		s.logger.WithError(err).Warn("Failed to save query log")
	}
}

// contextItems 把检索结果转换为上下文片段，图片标签附在内容后面
func contextItems(results []vectordb.SearchResult) []llm.ContextItem {
	items := make([]llm.ContextItem, 0, len(results))
	for _, r := range results {
		content := r.Record.Content
		if len(r.Record.Labels) > 0 {
			content = fmt.Sprintf("%s (etiket: %s)", content, strings.Join(r.Record.Labels, ", "))
		}
		items = append(items, llm.ContextItem{
			ID:      r.Record.ID,
			Page:    r.Record.Page,
			Type:    string(r.Record.Type),
			File:    r.Record.File,
			Content: content,
			Score:   r.Score,
		})
	}
	return items
}

func sourcesOf(items []llm.ContextItem) []models.Source {
	sources := make([]models.Source, 0, len(items))
	for _, item := range items {
		sources = append(sources, models.Source{
			RecordID: item.ID,
			Type:     item.Type,
			Page:     item.Page,
			File:     item.File,
			Score:    item.Score,
		})
	}
	return sources
}

// RenderMarkdown 把模型回答渲染为HTML
func RenderMarkdown(text string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank | mdhtml.SkipHTML,
	})
	return string(markdown.Render(p.Parse([]byte(text)), renderer))
}

// History 最近的问答记录，未配置仓储时返回空
func (s *QAService) History(ctx context.Context, limit int) ([]*models.QueryLog, error) {
	if s.queryLogs == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return s.queryLogs.WithContext(ctx).Recent(limit)
}
