package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultRAGTemplate 默认提示词模板
// {{.Question}} 为用户问题，{{.Context}} 为检索到的上下文
const DefaultRAGTemplate = `Kullanıcı şu soruyu sordu: “{{.Question}}”
Aşağıdaki içeriklere göre yanıtla:
{{.Context}}

Cevap:`

// DefaultSystemPrompt 问答时的系统消息
const DefaultSystemPrompt = "Sen yüklenen PDF belgelerindeki içeriklere dayanarak soruları yanıtlayan bir asistansın."

// StrictRAGTemplate 要求模型只依据上下文回答
const StrictRAGTemplate = `Aşağıdaki içerikler bir PDF belgesinden alınmıştır.
Yalnızca bu içeriklere dayanarak yanıt ver. Bilgi yoksa "Bu bilgi belgede bulunamadı." de.

İçerik:
{{.Context}}

Soru: {{.Question}}

Cevap:`

// RAGConfig 检索增强生成配置
type RAGConfig struct {
	Template     string        // 提示词模板
	SystemPrompt string        // 为空时只发送用户消息
	MaxTokens    int           // 最大Token数
	Temperature  float32       // 温度参数
	Timeout      time.Duration // 超时时间
	SnippetLimit int           // 每个片段写入上下文的最大字符数
	ShowType     bool          // 上下文行是否带记录类型
}

// DefaultRAGConfig 默认RAG配置
func DefaultRAGConfig() *RAGConfig {
	return &RAGConfig{
		Template:     DefaultRAGTemplate,
		SystemPrompt: DefaultSystemPrompt,
		MaxTokens:    1024,
		Temperature:  0.3,
		Timeout:      60 * time.Second,
		SnippetLimit: 400,
		ShowType:     true,
	}
}

// RAGOption RAG配置选项函数类型
type RAGOption func(*RAGConfig)

// WithTemplate 设置提示词模板
func WithTemplate(template string) RAGOption {
	return func(c *RAGConfig) {
		if template != "" {
			c.Template = template
		}
	}
}

// WithSystemPrompt 设置系统消息，空字符串表示不发送
func WithSystemPrompt(prompt string) RAGOption {
	return func(c *RAGConfig) {
		c.SystemPrompt = prompt
	}
}

// WithRAGMaxTokens 设置最大Token数
func WithRAGMaxTokens(tokens int) RAGOption {
	return func(c *RAGConfig) {
		c.MaxTokens = tokens
	}
}

// WithRAGTemperature 设置温度参数
func WithRAGTemperature(temp float32) RAGOption {
	return func(c *RAGConfig) {
		c.Temperature = temp
	}
}

// WithRAGTimeout 设置请求超时时间
func WithRAGTimeout(timeout time.Duration) RAGOption {
	return func(c *RAGConfig) {
		c.Timeout = timeout
	}
}

// WithSnippetLimit 设置片段截断长度
func WithSnippetLimit(limit int) RAGOption {
	return func(c *RAGConfig) {
		c.SnippetLimit = limit
	}
}

// WithTypeInContext 设置上下文行是否带记录类型
func WithTypeInContext(show bool) RAGOption {
	return func(c *RAGConfig) {
		c.ShowType = show
	}
}

// RAGService 检索增强生成服务
type RAGService struct {
	Client Client
	config *RAGConfig
	mu     sync.RWMutex
}

// NewRAG 创建新的检索增强生成服务
func NewRAG(client Client, opts ...RAGOption) *RAGService {
	cfg := DefaultRAGConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &RAGService{
		Client: client,
		config: cfg,
	}
}

// Answer 根据检索片段和问题生成回答
// 模型调用失败时仍返回已构建的上下文，便于调用方展示
func (r *RAGService) Answer(ctx context.Context, question string, items []ContextItem) (*RAGResponse, error) {
	if strings.TrimSpace(question) == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, "question cannot be empty")
	}

	r.mu.RLock()
	cfg := *r.config
	r.mu.RUnlock()

	contextText := FormatContext(items, cfg.SnippetLimit, cfg.ShowType)
	result := &RAGResponse{Context: contextText, Sources: items}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	response, err := r.Client.Chat(
		ctx,
		BuildMessages(cfg.SystemPrompt, BuildPrompt(cfg.Template, question, contextText)),
		WithGenerateMaxTokens(cfg.MaxTokens),
		WithGenerateTemperature(cfg.Temperature),
	)
	if err != nil {
		return result, WrapError(err, ErrCodeServerError)
	}

	result.Answer = response.Text
	return result, nil
}

// SetTemplate 设置自定义提示词模板
func (r *RAGService) SetTemplate(template string) *RAGService {
	r.mu.Lock()
	r.config.Template = template
	r.mu.Unlock()
	return r
}

// BuildMessages 系统消息在前，用户提示词在后
func BuildMessages(system, prompt string) []Message {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	return append(messages, Message{Role: RoleUser, Content: prompt})
}

// BuildPrompt 将问题和上下文填入模板
func BuildPrompt(template, question, contextText string) string {
	prompt := strings.ReplaceAll(template, "{{.Question}}", question)
	return strings.ReplaceAll(prompt, "{{.Context}}", contextText)
}

// FormatContext 每个片段一行："- Sayfa 3 [text]: ..."
func FormatContext(items []ContextItem, limit int, showType bool) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		page := "?"
		if item.Page > 0 {
			page = fmt.Sprintf("%d", item.Page)
		}
		snippet := Truncate(item.Content, limit)
		if showType && item.Type != "" {
			lines = append(lines, fmt.Sprintf("- Sayfa %s [%s]: %s", page, item.Type, snippet))
		} else {
			lines = append(lines, fmt.Sprintf("- Sayfa %s: %s", page, snippet))
		}
	}
	return strings.Join(lines, "\n")
}

// Truncate 按字符截断，limit<=0时不截断
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
