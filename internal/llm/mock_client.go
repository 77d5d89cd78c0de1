package llm

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 基于testify/mock的客户端桩
type MockClient struct {
	mock.Mock
}

// NewMockClient 创建桩并在测试结束时校验期望
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Generate 记录调用并返回预设结果
func (m *MockClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	args := m.Called(ctx, prompt)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

// Chat 记录调用并返回预设结果
func (m *MockClient) Chat(ctx context.Context, messages []Message, options ...GenerateOption) (*Response, error) {
	args := m.Called(ctx, messages)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

// Name 返回模型名称
func (m *MockClient) Name() string {
	return "mock-model"
}
