package sync

import (
	"context"
	"fmt"
	"strconv"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/bubbled/internal/remote"
	"github.com/matheus3301/bubbled/internal/status"
	"github.com/matheus3301/bubbled/internal/store"
	"go.uber.org/zap"
)

// Source is the read side of the remote server the poller sweeps.
type Source interface {
	ListChats(ctx context.Context, limit, offset int) ([]remote.Chat, error)
	ChatMessages(ctx context.Context, chatGUID string, limit, offset int) ([]remote.Message, error)
}

// PollerConfig bounds the work done per sweep.
type PollerConfig struct {
	ChatPage         int // chats swept, newest first
	MessagesPerChat  int // recent messages fetched per chat
	ChatRefreshEvery int // re-fetch the chat list every N sweeps; 0 disables
}

func (c *PollerConfig) applyDefaults() {
	if c.ChatPage <= 0 {
		c.ChatPage = 50
	}
	if c.MessagesPerChat <= 0 {
		c.MessagesPerChat = 5
	}
}

// Poller keeps the record store fresh by sweeping recent chats on an
// interval. At most one sweep loop runs per Poller.
type Poller struct {
	db     *store.DB
	rec    *Reconciler
	status *status.Machine
	cfg    PollerConfig
	logger *zap.Logger

	interval atomic.Int64
	wake     chan struct{}

	mu     gosync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	obsMu     gosync.RWMutex
	observers map[int]Observer
	nextObs   int

	sweeps atomic.Int64
}

// NewPoller creates an idle poller. st may be nil.
func NewPoller(db *store.DB, rec *Reconciler, st *status.Machine, cfg PollerConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	p := &Poller{
		db:        db,
		rec:       rec,
		status:    st,
		cfg:       cfg,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		observers: make(map[int]Observer),
	}
	p.interval.Store(int64(3 * time.Second))
	return p
}

// Start launches the sweep loop against src. It returns false and does
// nothing when a loop is already running.
func (p *Poller) Start(ctx context.Context, src Source, interval time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runningLocked() {
		return false
	}
	if interval > 0 {
		p.interval.Store(int64(interval))
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, src, p.done)
	p.logger.Info("poller started", zap.Duration("interval", p.Interval()))
	return true
}

// Stop requests the loop to exit and waits up to timeout for it. It
// returns true when the loop has exited. A false return means the stop was
// requested but an in-flight call is still finishing; cleanup can proceed.
func (p *Poller) Stop(timeout time.Duration) bool {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()
	select {
	case <-done:
		p.setState(status.Idle, "stopped")
		p.logger.Info("poller stopped")
		return true
	case <-time.After(timeout):
		p.logger.Warn("poller did not stop in time", zap.Duration("timeout", timeout))
		return false
	}
}

// Running reports whether a sweep loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

func (p *Poller) runningLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// SetInterval changes the sleep between sweeps, effective from the next sleep.
func (p *Poller) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval.Store(int64(d))
	}
}

// Interval returns the current sleep between sweeps.
func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// Trigger cuts the current sleep short so the next sweep starts now.
func (p *Poller) Trigger() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Subscribe registers an observer and returns a function removing it.
func (p *Poller) Subscribe(o Observer) func() {
	p.obsMu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = o
	p.obsMu.Unlock()

	return func() {
		p.obsMu.Lock()
		delete(p.observers, id)
		p.obsMu.Unlock()
	}
}

func (p *Poller) loop(ctx context.Context, src Source, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.safeSweep(ctx, src); err != nil && ctx.Err() == nil {
			p.logger.Error("sweep failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(p.Interval())
		select {
		case <-timer.C:
		case <-p.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (p *Poller) safeSweep(ctx context.Context, src Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()
	return p.Sweep(ctx, src)
}

// Sweep runs one pass: optionally refresh the chat list, then fetch the
// most recent messages of every cached chat and notify observers of chats
// that received new messages. Per-chat failures are reported to observers
// and do not abort the pass.
func (p *Poller) Sweep(ctx context.Context, src Source) error {
	n := p.sweeps.Add(1)
	p.setState(status.Syncing, "sweep "+strconv.FormatInt(n, 10))

	if every := int64(p.cfg.ChatRefreshEvery); every > 0 && n%every == 0 {
		if err := p.refreshChats(ctx, src); err != nil {
			p.logger.Warn("chat list refresh failed", zap.Error(err))
			p.notifyError("", err)
		}
	}

	chats, err := p.db.ListChats(p.cfg.ChatPage, 0)
	if err != nil {
		p.setState(status.Degraded, err.Error())
		return fmt.Errorf("list cached chats: %w", err)
	}

	var failed, offline int
	for _, c := range chats {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := src.ChatMessages(ctx, c.GUID, p.cfg.MessagesPerChat, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			if remote.IsNetwork(err) {
				offline++
			}
			p.logger.Warn("chat sync failed", zap.String("chat_guid", c.GUID), zap.Error(err))
			p.notifyError(c.GUID, err)
			continue
		}
		fresh, err := p.rec.ApplyMessages(ctx, msgs, c.GUID)
		if err != nil {
			failed++
			p.logger.Warn("apply messages failed", zap.String("chat_guid", c.GUID), zap.Error(err))
			p.notifyError(c.GUID, err)
			continue
		}
		if len(fresh) > 0 {
			p.logger.Debug("new messages", zap.String("chat_guid", c.GUID), zap.Int("count", len(fresh)))
			p.notifyNew(c.GUID)
		}
	}

	switch {
	case failed == 0:
		p.setState(status.Ready, "")
	case offline == len(chats):
		p.setState(status.Offline, "server unreachable")
	default:
		p.setState(status.Degraded, strconv.Itoa(failed)+" chats failed")
	}
	if err := p.rec.UpdateCheckpoint(CheckpointSweep, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		p.logger.Debug("checkpoint failed", zap.Error(err))
	}
	return nil
}

func (p *Poller) refreshChats(ctx context.Context, src Source) error {
	chats, err := src.ListChats(ctx, p.cfg.ChatPage, 0)
	if err != nil {
		return err
	}
	if err := p.rec.ApplyChats(ctx, chats); err != nil {
		return err
	}
	return p.rec.UpdateCheckpoint(CheckpointChatSync, strconv.FormatInt(time.Now().UnixMilli(), 10))
}

func (p *Poller) snapshot() []Observer {
	p.obsMu.RLock()
	defer p.obsMu.RUnlock()
	out := make([]Observer, 0, len(p.observers))
	for _, o := range p.observers {
		out = append(out, o)
	}
	return out
}

func (p *Poller) notifyNew(chatGUID string) {
	for _, o := range p.snapshot() {
		p.safeNotify(func() { o.OnNewMessages(chatGUID) })
	}
}

func (p *Poller) notifyError(chatGUID string, err error) {
	for _, o := range p.snapshot() {
		p.safeNotify(func() { o.OnSyncError(chatGUID, err) })
	}
}

func (p *Poller) safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("observer panic", zap.Any("panic", r))
		}
	}()
	fn()
}

func (p *Poller) setState(s status.State, detail string) {
	if p.status == nil {
		return
	}
	if err := p.status.TransitionWithDetail(s, detail); err != nil {
		p.logger.Debug("status transition skipped", zap.Error(err))
	}
}
