// Package redis stores each caller's sessions as one JSON document.
// Concurrent writers use optimistic versioning: WATCH the key, merge into
// the freshly read document, and commit with MULTI/EXEC. A failed EXEC is
// retried against the new state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/services"
	"go.uber.org/zap"
)

// Options tunes the repository
type Options struct {
	Prefix     string
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultOptions returns the options used when fields are left zero
func DefaultOptions() Options {
	return Options{
		Prefix:     "chat:sessions:",
		MaxRetries: 5,
		RetryDelay: 10 * time.Millisecond,
	}
}

// SessionRepository implements repositories.SessionRepository on Redis
type SessionRepository struct {
	client  goredis.UniversalClient
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics

	// beforeCommit runs between the read and EXEC; tests use it to race.
	beforeCommit func()
}

// NewSessionRepository creates a new Redis-backed session repository
func NewSessionRepository(client goredis.UniversalClient, opts Options, logger *zap.Logger, metrics *observability.Metrics) *SessionRepository {
	def := DefaultOptions()
	if opts.Prefix == "" {
		opts.Prefix = def.Prefix
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &SessionRepository{
		client:  client,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

func (r *SessionRepository) key(callerID string) string {
	return r.opts.Prefix + callerID
}

// Create adds a new session to the caller's document
func (r *SessionRepository) Create(ctx context.Context, callerID string, session *models.ChatSession) error {
	return r.update(ctx, callerID, func(doc *models.CallerSessions) error {
		doc.Add(session)
		return nil
	})
}

// Get returns the caller's document, or an empty one when none exists
func (r *SessionRepository) Get(ctx context.Context, callerID string) (*models.CallerSessions, error) {
	doc, err := r.read(ctx, r.client, callerID)
	if err != nil {
		return nil, services.WrapStorage("get sessions", err)
	}
	return doc, nil
}

// AppendTurns merges turns into an existing session
func (r *SessionRepository) AppendTurns(ctx context.Context, callerID, sessionID string, turns ...models.Turn) error {
	return r.update(ctx, callerID, func(doc *models.CallerSessions) error {
		if !doc.AppendTurns(sessionID, turns...) {
			return services.ErrSessionNotFound
		}
		return nil
	})
}

// update runs read-merge-write under WATCH, retrying on a lost race
func (r *SessionRepository) update(ctx context.Context, callerID string, merge func(doc *models.CallerSessions) error) error {
	key := r.key(callerID)

	txf := func(tx *goredis.Tx) error {
		doc, err := r.read(ctx, tx, callerID)
		if err != nil {
			return err
		}
		if err := merge(doc); err != nil {
			return err
		}
		doc.Version++

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal sessions: %w", err)
		}

		if r.beforeCommit != nil {
			r.beforeCommit()
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < r.opts.MaxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			if services.IsNotFoundError(err) {
				return err
			}
			return services.WrapStorage("update sessions", err)
		}

		r.metrics.SessionConflict()
		r.logger.Debug("session document changed during update, retrying",
			zap.String("caller_id", callerID),
			zap.Int("attempt", attempt+1),
		)

		select {
		case <-ctx.Done():
			return services.WrapStorage("update sessions", ctx.Err())
		case <-time.After(r.opts.RetryDelay * time.Duration(attempt+1)):
		}
	}

	r.logger.Warn("session update retries exhausted",
		zap.String("caller_id", callerID),
		zap.Int("max_retries", r.opts.MaxRetries),
	)
	return services.WrapStorage("update sessions", services.ErrConcurrentUpdate)
}

func (r *SessionRepository) read(ctx context.Context, c goredis.Cmdable, callerID string) (*models.CallerSessions, error) {
	raw, err := c.Get(ctx, r.key(callerID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return models.NewCallerSessions(callerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}

	doc := models.NewCallerSessions(callerID)
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = []*models.ChatSession{}
	}
	doc.CallerID = callerID
	return doc, nil
}
