package llm

import "time"

// MessageRole 消息角色类型
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message 对话消息结构
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Response 统一的响应结构
type Response struct {
	Text       string    // 生成的文本
	TokenCount int       // 使用的token数
	ModelName  string    // 使用的模型名称
	FinishTime time.Time // 完成时间
}

// ContextItem 参与回答的检索片段
type ContextItem struct {
	ID      string  `json:"id"`
	Page    int     `json:"page"`
	Type    string  `json:"type"`
	File    string  `json:"file,omitempty"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// RAGResponse RAG响应结构
type RAGResponse struct {
	Answer  string        // 回答内容
	Context string        // 拼接进提示词的上下文文本
	Sources []ContextItem // 引用来源
}

// 常用模型名称
const (
	ModelGPT35Turbo = "gpt-3.5-turbo"
	ModelGPT4oMini  = "gpt-4o-mini"
)
