package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/opsloom/opsloom/pkg/config"
	"github.com/opsloom/opsloom/pkg/utils"
)

const serperSearchEndpoint = "https://google.serper.dev/search"

// ResearchService implements web search for the research phase and the
// web_search tool. Serper is used when an API key is configured; otherwise
// the DuckDuckGo instant answer API serves as a degraded fallback.
type ResearchService struct {
	client *resty.Client
	apiKey string
	logger *slog.Logger
}

func NewResearchService(cfg *config.AppConfig) *ResearchService {
	client := resty.New().
		SetHeader("User-Agent", "OpsLoom/1.0").
		SetTimeout(cfg.ResearchTimeout())

	return &ResearchService{
		client: client,
		apiKey: cfg.SerperAPIKey(),
		logger: utils.GetLogger(),
	}
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
	AnswerBox struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answerBox"`
}

type duckDuckGoResponse struct {
	Heading       string `json:"Heading"`
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search implements tools.Searcher. The result is a readable text block for
// the model context, not structured data.
func (r *ResearchService) Search(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(r.apiKey) != "" {
		result, err := r.searchSerper(ctx, query)
		if err == nil {
			return result, nil
		}
		r.logger.Warn("serper search failed, falling back", "error", err)
	}
	return r.searchDuckDuckGo(ctx, query)
}

func (r *ResearchService) searchSerper(ctx context.Context, query string) (string, error) {
	var result serperResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", r.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"q": query, "num": 8}).
		SetResult(&result).
		Post(serperSearchEndpoint)
	if err != nil {
		return "", fmt.Errorf("serper request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("serper HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	var sb strings.Builder
	if result.AnswerBox.Answer != "" {
		sb.WriteString(fmt.Sprintf("Answer: %s\n\n", result.AnswerBox.Answer))
	} else if result.AnswerBox.Snippet != "" {
		sb.WriteString(fmt.Sprintf("Answer: %s\n\n", result.AnswerBox.Snippet))
	}
	for i, item := range result.Organic {
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n   %s\n", i+1, item.Title, item.Link, item.Snippet))
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("serper returned no results")
	}
	return sb.String(), nil
}

func (r *ResearchService) searchDuckDuckGo(ctx context.Context, query string) (string, error) {
	var ddg duckDuckGoResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetQueryParam("format", "json").
		SetQueryParam("no_html", "1").
		SetQueryParam("skip_disambig", "1").
		SetResult(&ddg).
		Get("https://api.duckduckgo.com/")
	if err != nil {
		return "", fmt.Errorf("fallback search: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fallback search HTTP %d", resp.StatusCode())
	}

	var sb strings.Builder
	if ddg.AbstractText != "" {
		sb.WriteString(fmt.Sprintf("%s\n%s\n%s\n", ddg.Heading, ddg.AbstractText, ddg.AbstractURL))
	}
	count := 0
	for _, topic := range ddg.RelatedTopics {
		if topic.Text == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s\n  %s\n", topic.Text, topic.FirstURL))
		count++
		if count >= 8 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", nil
	}
	return sb.String(), nil
}
