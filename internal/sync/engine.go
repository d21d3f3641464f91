// Package sync keeps the record store in step with the server: the
// Reconciler applies payloads, the Poller sweeps on an interval and the
// Engine runs foreground units of work.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/matheus3301/bubbled/internal/store"
	"go.uber.org/zap"
)

// ErrEngineStopped is returned when work is submitted after Stop.
var ErrEngineStopped = errors.New("sync engine stopped")

// DefaultTaskTimeout bounds a single unit of work submitted with Go.
const DefaultTaskTimeout = 30 * time.Second

// Engine runs independent short-lived tasks (initial sync, on-demand
// refreshes, media fetches) under one cancellation scope.
type Engine struct {
	db      *store.DB
	rec     *Reconciler
	src     Source
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      gosync.Mutex
	stopped bool
	wg      gosync.WaitGroup
}

// NewEngine creates a new sync engine reading from src.
func NewEngine(db *store.DB, rec *Reconciler, src Source, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		db:      db,
		rec:     rec,
		src:     src,
		logger:  logger,
		timeout: DefaultTaskTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetTaskTimeout changes the per-task timeout for tasks submitted afterwards.
func (e *Engine) SetTaskTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.timeout = d
	}
}

// Go runs fn in the background with a bounded context. Errors and panics
// are logged. It returns ErrEngineStopped after Stop.
func (e *Engine) Go(name string, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	timeout := e.timeout
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("task panic", zap.String("task", name), zap.Any("panic", r))
			}
		}()

		start := time.Now()
		if err := fn(ctx); err != nil {
			e.logger.Error("task failed", zap.String("task", name), zap.Error(err))
			return
		}
		e.logger.Debug("task done", zap.String("task", name), zap.Duration("took", time.Since(start)))
	}()
	return nil
}

// Stop cancels running tasks and waits up to timeout for them to return.
func (e *Engine) Stop(timeout time.Duration) bool {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		e.logger.Warn("engine tasks still running after stop", zap.Duration("timeout", timeout))
		return false
	}
}

// SyncChats fetches the chat list and applies it. The cached chat list is
// always returned, stale when the fetch failed, together with the fetch error.
func (e *Engine) SyncChats(ctx context.Context, limit int) ([]store.Chat, error) {
	var syncErr error
	payloads, err := e.src.ListChats(ctx, limit, 0)
	if err != nil {
		syncErr = fmt.Errorf("fetch chats: %w", err)
	} else if err := e.rec.ApplyChats(ctx, payloads); err != nil {
		syncErr = err
	} else {
		_ = e.rec.UpdateCheckpoint(CheckpointChatSync, fmt.Sprint(time.Now().UnixMilli()))
		e.logger.Info("chats synced", zap.Int("count", len(payloads)))
	}

	chats, err := e.db.ListChats(limit, 0)
	if err != nil {
		return nil, errors.Join(syncErr, err)
	}
	return chats, syncErr
}

// SyncChatMessages fetches a chat's recent messages and applies them. The
// cached page is always returned, stale when the fetch failed.
func (e *Engine) SyncChatMessages(ctx context.Context, chatGUID string, limit int) ([]store.Message, error) {
	var syncErr error
	payloads, err := e.src.ChatMessages(ctx, chatGUID, limit, 0)
	if err != nil {
		syncErr = fmt.Errorf("fetch messages for %q: %w", chatGUID, err)
	} else if _, err := e.rec.ApplyMessages(ctx, payloads, chatGUID); err != nil {
		syncErr = err
	}

	msgs, err := e.db.ListMessages(chatGUID, limit, 0)
	if err != nil {
		return nil, errors.Join(syncErr, err)
	}
	return msgs, syncErr
}
