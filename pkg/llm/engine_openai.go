package llm

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/dialforge/mas-coordinator/pkg/dial"
)

// OpenAIEngine implements Engine on top of the go-openai client, configured
// for a DIAL endpoint (Azure-style deployments path, Api-Key header).
type OpenAIEngine struct {
	client     *go_openai.Client
	deployment string
}

// NewOpenAIEngine creates an engine bound to one deployment of a DIAL
// endpoint.
func NewOpenAIEngine(endpoint string, apiKey string, deployment string) *OpenAIEngine {
	config := go_openai.DefaultAzureConfig(apiKey, endpoint)
	config.APIVersion = "2025-01-01-preview"
	// DIAL deployment names are used verbatim in the URL path.
	config.AzureModelMapperFunc = func(model string) string {
		return model
	}
	return &OpenAIEngine{
		client:     go_openai.NewClientWithConfig(config),
		deployment: deployment,
	}
}

// Complete issues a single non-streaming completion and returns the first
// choice's content.
func (e *OpenAIEngine) Complete(ctx context.Context, messages []dial.Message, options ...Option) (string, error) {
	opts := ApplyOptions(options...)

	req := go_openai.ChatCompletionRequest{
		Model:    e.deployment,
		Messages: toOpenAIMessages(messages),
	}

	if opts.Schema != nil {
		schemaBytes, err := json.Marshal(opts.Schema)
		if err != nil {
			return "", errors.Wrap(err, "marshal response schema")
		}
		req.ResponseFormat = &go_openai.ChatCompletionResponseFormat{
			Type: go_openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &go_openai.ChatCompletionResponseFormatJSONSchema{
				Name:   opts.SchemaName,
				Schema: json.RawMessage(schemaBytes),
				Strict: true,
			},
		}
	}

	log.Debug().Str("deployment", e.deployment).Int("num_messages", len(req.Messages)).
		Bool("structured", opts.Schema != nil).Msg("LLM completion request")

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "completion against %s failed", e.deployment)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Errorf("completion against %s returned no choices", e.deployment)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream issues a streaming completion, forwarding every text delta to
// onDelta as it arrives.
func (e *OpenAIEngine) Stream(ctx context.Context, messages []dial.Message, onDelta func(delta string) error) (string, error) {
	req := go_openai.ChatCompletionRequest{
		Model:    e.deployment,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}

	log.Debug().Str("deployment", e.deployment).Int("num_messages", len(req.Messages)).Msg("LLM streaming request")

	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "streaming completion against %s failed", e.deployment)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close completion stream")
		}
	}()

	completion := ""
	chunkCount := 0
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			log.Debug().Int("chunks", chunkCount).Msg("LLM stream completed")
			return completion, nil
		}
		if err != nil {
			return "", errors.Wrapf(err, "streaming completion against %s failed after %d chunks", e.deployment, chunkCount)
		}
		chunkCount++

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		completion += delta
		if err := onDelta(delta); err != nil {
			return completion, err
		}
	}
}

// toOpenAIMessages reduces DIAL messages to the plain role/content shape the
// language model sees. Custom content never reaches the model; callers strip
// or compose it beforehand.
func toOpenAIMessages(messages []dial.Message) []go_openai.ChatCompletionMessage {
	out := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, go_openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}

var _ Engine = (*OpenAIEngine)(nil)
