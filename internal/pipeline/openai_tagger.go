package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mateovidal/brandvault-backend/pkg/config"
	pkgerrors "github.com/mateovidal/brandvault-backend/pkg/errors"
	"github.com/mateovidal/brandvault-backend/pkg/logger"
)

const (
	defaultTaggingModel = "gpt-4o-mini"
	maxTags             = 10
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAITagger produces content tags for an asset through the OpenAI chat
// completion API.
type OpenAITagger struct {
	client chatCompleter
	model  string
	logg   *logger.Logger
}

// NewOpenAITagger constructs the tagger from configuration.
func NewOpenAITagger(cfg config.OpenAIConfig, logg *logger.Logger) (*OpenAITagger, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "openai api key required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultTaggingModel
	}
	return &OpenAITagger{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
		logg:   logg,
	}, nil
}

// Tag asks the model for descriptive tags. One tag per line, lowercase.
func (t *OpenAITagger) Tag(ctx context.Context, objectKey, contentType string) ([]string, error) {
	prompt := fmt.Sprintf(
		"You label digital brand assets. Given a file path and its content type, return up to %d short lowercase tags, one per line, no punctuation.\n\npath: %s\ncontent type: %s",
		maxTags, objectKey, contentType,
	)

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "tagging call failed")
	}
	if len(resp.Choices) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "tagging returned no choices")
	}

	tags := parseTags(resp.Choices[0].Message.Content)
	logCtx := t.logg.WithFields(ctx, map[string]any{
		"object_key": objectKey,
		"tag_count":  len(tags),
	})
	t.logg.Info(logCtx, "asset tagged")
	return tags, nil
}

// parseTags normalizes the model output: one tag per line, trimmed,
// lowercased, deduplicated, capped at maxTags.
func parseTags(raw string) []string {
	seen := map[string]struct{}{}
	tags := []string{}
	for _, line := range strings.Split(raw, "\n") {
		tag := strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. ")))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}
