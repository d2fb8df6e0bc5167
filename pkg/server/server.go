// Package server exposes the coordinator over the DIAL chat-completion
// surface: one streaming deployment endpoint plus a health probe.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dialforge/mas-coordinator/pkg/chat"
	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/events"
)

// TurnHandler runs one conversation turn against a choice and returns the
// outgoing assistant message.
type TurnHandler interface {
	HandleTurn(ctx context.Context, choice *chat.Choice, history []dial.Message) (dial.Message, error)
}

// Server serves the coordinator deployment.
type Server struct {
	handler    TurnHandler
	deployment string
	addr       string
	sinks      []events.Sink

	httpServer *http.Server
}

type Option func(*Server)

// WithSinks attaches extra event sinks (the event bus, for instance) to every
// request's choice, next to the per-request response sink.
func WithSinks(sinks ...events.Sink) Option {
	return func(s *Server) {
		s.sinks = append(s.sinks, sinks...)
	}
}

func NewServer(addr string, deployment string, handler TurnHandler, options ...Option) *Server {
	s := &Server{
		handler:    handler,
		deployment: deployment,
		addr:       addr,
	}
	for _, option := range options {
		option(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/openai/deployments/%s/chat/completions", deployment), s.handleChatCompletions)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Str("deployment", s.deployment).Msg("starting server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// Handler exposes the routing mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req dial.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	metadata := events.EventMetadata{
		ID:             uuid.New(),
		ConversationID: r.Header.Get(dial.ConversationIDHeader),
		Deployment:     s.deployment,
	}
	logger := log.With().Object("meta", metadata).Logger()
	logger.Info().Int("messages", len(req.Messages)).Bool("stream", req.Stream).Msg("handling turn")

	if !req.Stream {
		s.respondComplete(w, r, metadata, req.Messages)
		return
	}
	s.respondStreaming(w, r, metadata, req.Messages)
}

func (s *Server) respondComplete(w http.ResponseWriter, r *http.Request, metadata events.EventMetadata, history []dial.Message) {
	choice := chat.NewChoice(metadata, s.sinks...)
	msg, err := s.handler.HandleTurn(r.Context(), choice, history)
	if err != nil {
		log.Error().Err(err).Object("meta", metadata).Msg("turn failed")
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := dial.ChatCompletionResponse{
		ID:     "chatcmpl-" + metadata.ID.String(),
		Object: "chat.completion",
		Choices: []dial.ResponseChoice{
			{Index: 0, Message: msg, FinishReason: "stop"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to write completion response")
	}
}

func (s *Server) respondStreaming(w http.ResponseWriter, r *http.Request, metadata events.EventMetadata, history []dial.Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported by this connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	sink := newSSESink(w, flusher, "chatcmpl-"+metadata.ID.String())
	sinks := append(append([]events.Sink{}, s.sinks...), sink)
	choice := chat.NewChoice(metadata, sinks...)

	start := events.NewStartEvent(metadata)
	for _, target := range sinks {
		if err := target.PublishEvent(start); err != nil {
			log.Warn().Err(err).Msg("failed to publish start event")
		}
	}

	msg, err := s.handler.HandleTurn(r.Context(), choice, history)
	if err != nil {
		// the stream is already committed, so the failure travels in-band
		log.Error().Err(err).Object("meta", metadata).Msg("turn failed")
		if writeErr := sink.writeError(err); writeErr != nil {
			log.Warn().Err(writeErr).Msg("failed to write stream error")
		}
		_ = sink.writeDone()
		return
	}

	if err := sink.writeFinal(msg); err != nil {
		log.Warn().Err(err).Msg("failed to write final chunk")
	}
	_ = sink.writeDone()
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
		},
	}
	_ = json.NewEncoder(w).Encode(body)
}
