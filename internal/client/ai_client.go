package client

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"collab-service/internal/config"
	"collab-service/internal/middleware"
	"collab-service/internal/realtime"
)

const systemPrompt = "You are a spreadsheet assistant embedded in a collaborative workspace. " +
	"Answer questions about the user's data concisely. When asked for a formula, reply with the formula first."

// AIClient streams completions from an OpenAI-compatible endpoint and adapts
// them to the realtime AI relay.
type AIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func NewAIClient(cfg config.AIConfig, logger *zap.Logger) *AIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &AIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}
}

// Stream implements realtime.AIStreamer. The returned channel is closed when
// the completion finishes or the context is cancelled.
func (c *AIClient) Stream(ctx context.Context, prompt, contextText string) (<-chan realtime.AIChunk, error) {
	middleware.RecordAIRequest()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if contextText != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Current sheet context:\n" + contextText,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan realtime.AIChunk)
	go c.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (c *AIClient) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- realtime.AIChunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			chunks <- realtime.AIChunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				chunks <- realtime.AIChunk{Done: true}
				return
			}
			c.logger.Warn("ai stream interrupted", zap.Error(err))
			chunks <- realtime.AIChunk{Err: err, Done: true}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			chunks <- realtime.AIChunk{Content: delta}
		}
	}
}
