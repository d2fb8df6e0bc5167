package ums

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

const doneSentinel = "[DONE]"

// Client speaks the UMS agent's HTTP protocol: conversation creation plus a
// server-streamed chat call encoded as line-delimited "data: <json>" events
// terminated by a literal [DONE] marker.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: httpClient,
	}
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type createConversationResponse struct {
	ID string `json:"id"`
}

// CreateConversation mints a new conversation on the UMS agent side and
// returns its identifier.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	body, err := json.Marshal(createConversationRequest{Title: "UMS Agent Conversation"})
	if err != nil {
		return "", errors.Wrap(err, "marshal conversation request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/conversations", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "create conversation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "UMS conversation creation failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return "", errors.Errorf("UMS conversation creation failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var created createConversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", errors.Wrap(err, "decode conversation response")
	}
	if created.ID == "" {
		return "", errors.New("UMS conversation creation returned an empty id")
	}
	return created.ID, nil
}

type chatRequest struct {
	Message chatMessage `json:"message"`
	Stream  bool        `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatEvent is one decoded stream event. Events carrying a conversation_id
// are protocol chatter and are skipped; content rides on the OpenAI-style
// choices[0].delta.content path.
type chatEvent struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Choices        []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
	} `json:"choices,omitempty"`
}

// Chat sends the user message into the given conversation and streams the
// reply, invoking onDelta for every content fragment. Malformed lines are
// skipped; the stream keeps going until [DONE] or EOF. Returns the
// accumulated reply text.
func (c *Client) Chat(ctx context.Context, conversationID string, userMessage string, onDelta func(delta string)) (string, error) {
	body, err := json.Marshal(chatRequest{
		Message: chatMessage{Role: "user", Content: userMessage},
		Stream:  true,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal chat request")
	}

	url := fmt.Sprintf("%s/conversations/%s/chat", c.endpoint, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "create chat request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "UMS chat call failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return "", errors.Errorf("UMS chat call failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	content := ""
	// Lines can carry arbitrarily large content fragments, so read them
	// unbounded rather than through a token-limited scanner.
	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return content, errors.Wrap(readErr, "read UMS stream")
		}
		if err := ctx.Err(); err != nil {
			return content, err
		}

		data, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "data: ")
		if ok {
			if data == doneSentinel {
				break
			}

			var event chatEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				log.Debug().Err(err).Str("data", data).Msg("skipping malformed UMS stream line")
			} else if event.ConversationID == "" && len(event.Choices) > 0 {
				if delta := event.Choices[0].Delta.Content; delta != "" {
					onDelta(delta)
					content += delta
				}
			}
		}

		if readErr == io.EOF {
			break
		}
	}

	return content, nil
}
