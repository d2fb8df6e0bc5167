package dial

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultAPIVersion = "2025-01-01-preview"
	doneSentinel      = "[DONE]"

	// ConversationIDHeader correlates a turn across services; used for
	// logging and forwarded verbatim to downstream agents.
	ConversationIDHeader = "x-conversation-id"
)

// StreamEvent is one element of a streamed chat completion: either a parsed
// chunk or a terminal error. The channel is closed after the last event.
type StreamEvent struct {
	Chunk *CompletionChunk
	Err   error
}

// Client talks to a DIAL-compatible endpoint. It exists because the stream
// deltas carry custom_content (attachments, state, stages), which the plain
// OpenAI client types cannot represent.
type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		c.apiVersion = version
	}
}

func NewClient(baseURL string, apiKey string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiVersion: defaultAPIVersion,
		httpClient: http.DefaultClient,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// StreamChatCompletion issues a streaming chat completion against the given
// deployment and returns a channel of parsed chunks. The channel is closed
// when the stream ends, errors out, or ctx is cancelled. Malformed individual
// events are skipped; the stream keeps going.
func (c *Client) StreamChatCompletion(
	ctx context.Context,
	deployment string,
	req *ChatCompletionRequest,
	extraHeaders map[string]string,
) (<-chan StreamEvent, error) {
	reqCopy := *req
	reqCopy.Stream = true

	body, err := json.Marshal(&reqCopy)
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat completion request")
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.baseURL, deployment, c.apiVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create chat completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", c.apiKey)
	for k, v := range extraHeaders {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "chat completion call failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, errors.Errorf("chat completion against %s failed: status %d: %s",
			deployment, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	events := make(chan StreamEvent)
	go streamChunks(ctx, resp, events)

	return events, nil
}

// streamChunks reads line-delimited "data: <json>" events from resp until the
// [DONE] sentinel or EOF, sending parsed chunks on events. The body is always
// closed and the channel always ends.
func streamChunks(ctx context.Context, resp *http.Response, events chan<- StreamEvent) {
	defer close(events)
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	reader := bufio.NewReader(resp.Body)
	chunkCount := 0
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				select {
				case events <- StreamEvent{Err: errors.Wrap(err, "read stream")}:
				case <-ctx.Done():
				}
			}
			log.Debug().Int("chunks", chunkCount).Msg("dial stream finished")
			return
		}

		data, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "data: ")
		if !ok {
			continue
		}
		if data == doneSentinel {
			log.Debug().Int("chunks", chunkCount).Msg("dial stream done sentinel")
			return
		}

		var chunk CompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// A single malformed event is a protocol wart, not a stream failure.
			log.Debug().Err(err).Str("data", data).Msg("skipping malformed stream event")
			continue
		}
		chunkCount++

		select {
		case events <- StreamEvent{Chunk: &chunk}:
		case <-ctx.Done():
			log.Debug().Msg("dial stream cancelled")
			return
		}
	}
}
