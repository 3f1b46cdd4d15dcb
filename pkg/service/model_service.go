package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qianfan"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/opsloom/opsloom/pkg/config"
	"github.com/opsloom/opsloom/pkg/utils"
)

// ModelService builds eino chat models from the configured provider.
type ModelService struct {
	cfg    *config.AppConfig
	logger *slog.Logger
}

func NewModelService(cfg *config.AppConfig) *ModelService {
	return &ModelService{
		cfg:    cfg,
		logger: utils.GetLogger(),
	}
}

// ChatModel returns the primary conversation model.
func (m *ModelService) ChatModel(ctx context.Context) (einoModel.ToolCallingChatModel, error) {
	return m.create(ctx, m.cfg.ModelID())
}

// ClassifierModel returns the model used for mode classification. Falls back
// to the primary model when no dedicated classifier model is configured.
func (m *ModelService) ClassifierModel(ctx context.Context) (einoModel.ToolCallingChatModel, error) {
	return m.create(ctx, m.cfg.ClassifierModelID())
}

// SummaryModel returns the model used for compaction summaries and titles.
func (m *ModelService) SummaryModel(ctx context.Context) (einoModel.ToolCallingChatModel, error) {
	return m.create(ctx, m.cfg.SummaryModelID())
}

// CreateChatModel creates an eino chat model for an explicit model ID,
// overriding the configured default. Used when a turn request pins a model.
func (m *ModelService) CreateChatModel(ctx context.Context, modelID string) (einoModel.ToolCallingChatModel, error) {
	if modelID == "" {
		modelID = m.cfg.ModelID()
	}
	return m.create(ctx, modelID)
}

// canonicalProvider folds provider aliases onto one switch name. The config
// accepts either the vendor or the model family name.
func canonicalProvider(p string) string {
	switch p {
	case "claude":
		return "anthropic"
	case "gemini":
		return "google"
	}
	return p
}

func (m *ModelService) create(ctx context.Context, modelID string) (einoModel.ToolCallingChatModel, error) {
	provider := canonicalProvider(m.cfg.Provider())
	apiKey := m.cfg.APIKey()
	baseURL := m.cfg.BaseURL()

	m.logger.Debug("creating chat model",
		"provider", provider,
		"model", modelID,
		"api_key", utils.MaskSensitiveString(apiKey))

	switch provider {
	case "openai", "custom":
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: baseURL,
			APIKey:  apiKey,
			Model:   modelID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return chatModel, nil

	case "ark":
		timeout := time.Second * 600
		retries := 3
		chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:    baseURL,
			Timeout:    &timeout,
			RetryTimes: &retries,
			APIKey:     apiKey,
			Model:      modelID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ark model: %w", err)
		}
		return chatModel, nil

	case "deepseek":
		chatModel, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			BaseURL: baseURL,
			APIKey:  apiKey,
			Model:   modelID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return chatModel, nil

	case "anthropic":
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			BaseURL:   &baseURL,
			APIKey:    apiKey,
			Model:     modelID,
			MaxTokens: 8192,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return chatModel, nil

	case "ollama":
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   modelID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama model: %w", err)
		}
		return chatModel, nil

	case "google":
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: genaiClient,
			Model:  modelID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return chatModel, nil

	case "qianfan":
		qianfanConfig := qianfan.GetQianfanSingletonConfig()
		qianfanConfig.BaseURL = baseURL
		qianfanConfig.BearerToken = apiKey
		chatModel, err := qianfan.NewChatModel(ctx, &qianfan.ChatModelConfig{
			Model: modelID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qianfan model: %w", err)
		}
		return chatModel, nil

	case "qwen":
		chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL: baseURL,
			APIKey:  apiKey,
			Model:   modelID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qwen model: %w", err)
		}
		return chatModel, nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", provider)
	}
}

// TestConnection checks provider connectivity with a one-word prompt.
func (m *ModelService) TestConnection(ctx context.Context) error {
	chatModel, err := m.ChatModel(ctx)
	if err != nil {
		return err
	}
	_, err = chatModel.Generate(ctx, []*schema.Message{{Role: schema.User, Content: "Hi"}})
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	return nil
}
