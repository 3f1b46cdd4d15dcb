package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/models"
	"github.com/opsloom/opsloom/pkg/utils"
)

const classifierPrompt = `Classify the user's request into exactly one operating mode:

- chat: general questions, small talk, simple lookups
- debug: something is broken, failing or behaving unexpectedly
- architect: design advice, technology choices, infrastructure layout
- plan: the user wants a plan or sequence of steps before acting
- test: verify that something works, health checks, validation
- support: the user wants to be guided through a task step by step

Answer with the single mode word and nothing else.`

// modeSignals maps each non-chat mode to phrases that indicate it. A single
// unambiguous hit decides the mode without a model call.
var modeSignals = map[models.Mode][]string{
	models.ModeDebug: {
		"error", "failed", "failing", "broken", "not working", "crash",
		"stack trace", "panic", "traceback", "won't start", "is down",
		"stopped working", "segfault", "oom",
	},
	models.ModeArchitect: {
		"architecture", "design", "should i use", "which database",
		"tech stack", "scalab", "infrastructure layout", "trade-off",
		"tradeoff",
	},
	models.ModePlan: {
		"plan", "roadmap", "step by step plan", "outline the steps",
		"migration plan", "before we start",
	},
	models.ModeTest: {
		"verify", "health check", "validate", "smoke test", "check that",
		"make sure it works", "is it working",
	},
	models.ModeSupport: {
		"how do i", "how to", "walk me through", "guide me", "help me set up",
		"show me how",
	},
}

// Classifier picks the operating mode for a turn. An explicit forceMode on
// the request bypasses it entirely.
type Classifier struct {
	models *ModelService
	logger *slog.Logger
}

func NewClassifier(ms *ModelService) *Classifier {
	return &Classifier{
		models: ms,
		logger: utils.GetLogger(),
	}
}

// Classify picks the mode for a user message. Signal rules decide clear
// cases; the classifier model breaks ties. A turn never fails on
// classification; everything unresolvable is chat.
func (c *Classifier) Classify(ctx context.Context, content string) models.Mode {
	if mode, ok := classifyBySignals(content); ok {
		c.logger.Debug("classified turn by signals", "mode", mode)
		return mode
	}
	return c.classifyByModel(ctx, content)
}

// classifyBySignals applies the phrase rules. It reports a match only when
// exactly one mode's signals fire; zero or conflicting hits defer to the
// model.
func classifyBySignals(content string) (models.Mode, bool) {
	lowered := strings.ToLower(content)

	var matched []models.Mode
	for _, mode := range models.AllModes {
		for _, signal := range modeSignals[mode] {
			if strings.Contains(lowered, signal) {
				matched = append(matched, mode)
				break
			}
		}
	}
	if len(matched) == 1 {
		return matched[0], true
	}
	return "", false
}

func (c *Classifier) classifyByModel(ctx context.Context, content string) models.Mode {
	chatModel, err := c.models.ClassifierModel(ctx)
	if err != nil {
		c.logger.Warn("classifier model unavailable, defaulting to chat", "error", err)
		return models.ModeChat
	}

	resp, err := chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(classifierPrompt),
		schema.UserMessage(content),
	})
	if err != nil {
		c.logger.Warn("classification failed, defaulting to chat", "error", err)
		return models.ModeChat
	}

	mode := parseModeOutput(resp.Content)
	c.logger.Debug("classified turn by model", "mode", mode)
	return mode
}

// parseModeOutput extracts a mode from model output, tolerating punctuation,
// casing and surrounding prose. Unrecognized output maps to chat.
func parseModeOutput(output string) models.Mode {
	cleaned := strings.ToLower(strings.TrimSpace(output))
	cleaned = strings.Trim(cleaned, "\"'.`")

	if m, err := models.ParseMode(cleaned); err == nil {
		return m
	}

	// The model sometimes wraps the answer in a sentence; take the first
	// recognizable mode word.
	for _, field := range strings.FieldsFunc(cleaned, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		if m, err := models.ParseMode(field); err == nil {
			return m
		}
	}
	return models.ModeChat
}
