// Package chat runs one conversational turn: answer from the knowledge
// cache when a similar question was seen, otherwise generate, then record
// the exchange in session history, the audit log and the knowledge cache.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/services"
	"github.com/upb/chat-gateway/services/providers"
	"github.com/upb/chat-gateway/services/semantic"
)

// Service orchestrates the turn pipeline
type Service struct {
	index     KnowledgeIndex
	knowledge KnowledgeWriter
	sessions  SessionStore
	audit     AuditLog
	generator providers.Provider
	config    Config
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewService creates a new chat service with all dependencies
func NewService(
	index KnowledgeIndex,
	knowledge KnowledgeWriter,
	sessions SessionStore,
	audit AuditLog,
	generator providers.Provider,
	config Config,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Service {
	def := DefaultConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Service{
		index:     index,
		knowledge: knowledge,
		sessions:  sessions,
		audit:     audit,
		generator: generator,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandleTurn answers one message within a session
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	message := strings.TrimSpace(req.Message)

	// Step 1: reject blank input without touching any store
	if message == "" {
		s.metrics.ObserveTurn(string(OutcomeEmpty))
		return &TurnResponse{Response: ReplyEmptyMessage, Outcome: OutcomeEmpty, SessionID: req.SessionID}, nil
	}

	// Step 2: a session is required
	if req.SessionID == "" {
		return nil, services.ErrSessionRequired
	}

	log := s.logger.With(
		zap.String("caller_id", req.CallerID),
		zap.String("session_id", req.SessionID),
		zap.String("request_id", req.RequestID),
	)

	// Step 3: load prior turns for generation context
	log.Debug("step 3: loading history")
	history, err := s.sessions.GetHistory(ctx, req.CallerID, req.SessionID)
	if err != nil {
		log.Warn("failed to load session history, continuing without it", zap.Error(err))
		history = nil
	}

	// Step 4: semantic lookup
	log.Debug("step 4: semantic lookup")
	match, err := s.index.Lookup(ctx, message)
	if err != nil {
		log.Warn("semantic lookup failed, treating as miss", zap.Error(err))
		match = semantic.Result{}
	}

	var (
		answer  string
		outcome Outcome
	)
	if match.Hit() {
		// Step 5: answer from the cache
		log.Debug("step 5: cache hit", zap.Float64("score", match.Score))
		answer = match.Entry.Answer
		outcome = OutcomeCacheHit
	} else {
		// Step 6: generate
		log.Debug("step 6: generating", zap.String("provider", s.generator.Name()))
		answer, outcome = s.generate(ctx, req.CallerID, history, message, log)
	}

	// formatting is for display only; the knowledge base keeps raw answers
	response := Format(answer)

	// Step 7: best-effort writes; none of them fails the turn
	log.Debug("step 7: storing turn", zap.String("outcome", string(outcome)))
	s.store(context.WithoutCancel(ctx), req, message, answer, response, outcome, match.QueryEmbedding, log)

	s.metrics.ObserveTurn(string(outcome))
	log.Info("turn completed", zap.String("outcome", string(outcome)))

	return &TurnResponse{Response: response, Outcome: outcome, SessionID: req.SessionID}, nil
}

// generate asks the backend for an answer and returns its raw text.
// Failures become a fixed degraded reply.
func (s *Service) generate(ctx context.Context, callerID string, history []models.Turn, message string, log *zap.Logger) (string, Outcome) {
	genCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req := &providers.ChatRequest{
		Model:       s.config.Model,
		Messages:    buildMessages(history, message),
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
		TopP:        s.config.TopP,
		User:        callerID,
	}

	start := time.Now()
	resp, err := s.generator.ChatCompletion(genCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			status = "timeout"
		}
		s.metrics.ObserveGeneration(status, elapsed)
		log.Error("generation failed",
			zap.String("status", status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return ReplyGenerationFailed, OutcomeDegraded
	}

	content, ok := resp.Content()
	if !ok {
		s.metrics.ObserveGeneration("empty", elapsed)
		log.Warn("generation returned no content")
		return ReplyNoChoices, OutcomeDegraded
	}

	s.metrics.ObserveGeneration("ok", elapsed)
	return content, OutcomeGenerated
}

// buildMessages sends the caller's earlier messages followed by the
// current one. Bot turns are not replayed.
func buildMessages(history []models.Turn, message string) []providers.Message {
	msgs := make([]providers.Message, 0, len(history)+1)
	for _, t := range history {
		if t.Speaker == models.SpeakerUser {
			msgs = append(msgs, providers.Message{Role: providers.RoleUser, Content: t.Text})
		}
	}
	return append(msgs, providers.Message{Role: providers.RoleUser, Content: message})
}

// store records the displayed response in the session and audit log, and
// the raw answer in the knowledge base
func (s *Service) store(ctx context.Context, req TurnRequest, message, answer, response string, outcome Outcome, vector []float32, log *zap.Logger) {
	if err := s.sessions.AppendTurns(ctx, req.CallerID, req.SessionID, models.UserTurn(message), models.BotTurn(response)); err != nil {
		s.metrics.StoreFailed(observability.StoreSession)
		log.Error("failed to append session turns", zap.Error(err))
	}

	record := models.NewChatRecord(req.CallerID, req.SessionID).
		WithExchange(message, response).
		WithIntent(outcome.Intent()).
		WithRequest(req.RequestID)
	if err := s.audit.Append(ctx, record); err != nil {
		s.metrics.StoreFailed(observability.StoreAudit)
		log.Warn("failed to record audit entry", zap.Error(err))
	}

	if outcome != OutcomeGenerated {
		return
	}
	if err := s.knowledge.Append(ctx, message, answer, vector); err != nil {
		s.metrics.StoreFailed(observability.StoreKnowledge)
		log.Error("failed to append knowledge entry", zap.Error(err))
	}
}
