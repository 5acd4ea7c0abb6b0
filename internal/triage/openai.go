package triage

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mateovidal/brandvault-backend/pkg/config"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

const defaultModel = "gpt-4o-mini"

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClassifier triages failures through the OpenAI chat completion API.
type OpenAIClassifier struct {
	client        chatCompleter
	model         string
	traceMaxChars int
	logg          *logger.Logger
}

// NewOpenAIClassifier constructs the classifier from configuration.
func NewOpenAIClassifier(cfg config.OpenAIConfig, traceMaxChars int, logg *logger.Logger) (*OpenAIClassifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "openai api key required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &OpenAIClassifier{
		client:        openai.NewClient(cfg.APIKey),
		model:         model,
		traceMaxChars: traceMaxChars,
		logg:          logg,
	}, nil
}

// Classify sends the failure context to the model and parses the verdict.
// A degenerate response is not an error; only transport failures are.
func (c *OpenAIClassifier) Classify(ctx context.Context, input Input) (*Classification, error) {
	prompt := BuildPrompt(input, c.traceMaxChars)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "classification call failed")
	}
	if len(resp.Choices) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "classification returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	parsed := ParseClassification(raw)

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"asset_id": input.AssetID.String(),
		"stage":    input.Stage,
		"severity": parsed.Severity,
	})
	c.logg.Info(logCtx, "failure classified")
	return &parsed, nil
}
