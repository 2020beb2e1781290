package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"bomflow/internal/model"
)

// GeminiClient 通过 genai SDK 调用 Gemini
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient 创建 Gemini 客户端
func NewGeminiClient(ctx context.Context, apiKey, modelName string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: modelName}, nil
}

// Name 服务名称
func (c *GeminiClient) Name() string { return "gemini" }

// Complete 生成 JSON 格式回复
func (c *GeminiClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return "", mapGenAIError(err)
	}
	text := resp.Text()
	if text == "" {
		return "", model.NewServiceError(model.ErrMalformedResponse, 0, errors.New("empty response"))
	}
	return text, nil
}

func mapGenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewServiceError(model.ErrTimeout, 0, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return model.NewServiceError(model.ErrRateLimited, apiErr.Code, err)
		}
		return model.NewServiceError(model.ErrServiceStatus, apiErr.Code, err)
	}
	return fmt.Errorf("genai request: %w", err)
}
