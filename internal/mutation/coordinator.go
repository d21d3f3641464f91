// Package mutation executes user writes against the server and re-pulls
// the affected chat so the record store only holds server-confirmed state.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/bubbled/internal/bus"
	"github.com/matheus3301/bubbled/internal/remote"
	"github.com/matheus3301/bubbled/internal/store"
	bsync "github.com/matheus3301/bubbled/internal/sync"
	"go.uber.org/zap"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrUnknownChat  = errors.New("chat is not cached locally")
)

// Messages re-fetched after a successful write.
const (
	ResyncMessages  = 10
	ResyncReactions = 50
)

// Reactions accepted by SendReaction.
var Reactions = []string{"love", "like", "dislike", "laugh", "emphasize", "question"}

// Remote is the write side of the server plus the read used for re-sync.
type Remote interface {
	SendText(ctx context.Context, chatGUID, text string) (*remote.Message, error)
	SendAttachment(ctx context.Context, chatGUID, path, caption string) (*remote.Message, error)
	React(ctx context.Context, chatGUID, messageGUID, reaction string) (*remote.Message, error)
	Edit(ctx context.Context, messageGUID, text string) error
	Unsend(ctx context.Context, messageGUID string) error
	SetTyping(ctx context.Context, chatGUID string, typing bool) error
	MarkRead(ctx context.Context, chatGUID string) error
	CreateChat(ctx context.Context, addresses []string, text string) (*remote.Chat, error)
	ChatMessages(ctx context.Context, chatGUID string, limit, offset int) ([]remote.Message, error)
}

// Result is the outcome handed to the presentation layer.
type Result struct {
	OK       bool
	Message  string
	ChatGUID string
}

func fail(err error) Result {
	return Result{Message: err.Error()}
}

// Coordinator runs mutations. It never panics and never returns an error;
// every failure is reported through Result.
type Coordinator struct {
	db     *store.DB
	rec    *bsync.Reconciler
	remote Remote
	bus    *bus.Bus
	logger *zap.Logger
}

// NewCoordinator creates a coordinator. b may be nil.
func NewCoordinator(db *store.DB, rec *bsync.Reconciler, r Remote, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{db: db, rec: rec, remote: r, bus: b, logger: logger}
}

type op struct {
	kind     string
	chatGUID string
	target   string
	resync   int
	done     string
	call     func(ctx context.Context) error
}

// MutationEvent is published on the bus after every mutation.
type MutationEvent struct {
	MutationID string
	Kind       string
	ChatGUID   string
	OK         bool
	Err        string
}

func (c *Coordinator) run(ctx context.Context, o op) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("mutation panic", zap.String("kind", o.kind), zap.Any("panic", r))
			res = Result{Message: fmt.Sprintf("%s failed: internal error", o.kind), ChatGUID: o.chatGUID}
		}
	}()

	if o.chatGUID != "" {
		ok, err := c.db.ChatExists(o.chatGUID)
		if err != nil {
			return fail(fmt.Errorf("look up chat: %w", err))
		}
		if !ok {
			return fail(fmt.Errorf("%w: %s", ErrUnknownChat, o.chatGUID))
		}
	}

	id := uuid.NewString()
	if err := c.db.LogMutation(id, o.kind, o.chatGUID, o.target); err != nil {
		c.logger.Warn("journal mutation failed", zap.String("kind", o.kind), zap.Error(err))
	}

	log := c.logger.With(zap.String("mutation_id", id), zap.String("kind", o.kind), zap.String("chat_guid", o.chatGUID))
	if err := o.call(ctx); err != nil {
		log.Warn("mutation failed", zap.Error(err))
		_ = c.db.MarkMutationFailed(id, err.Error())
		c.publish(MutationEvent{MutationID: id, Kind: o.kind, ChatGUID: o.chatGUID, Err: err.Error()})
		return Result{Message: fmt.Sprintf("%s failed: %v", o.kind, err), ChatGUID: o.chatGUID}
	}
	if err := c.db.MarkMutationSent(id); err != nil {
		log.Warn("journal update failed", zap.Error(err))
	}

	if o.resync > 0 && o.chatGUID != "" {
		c.resync(ctx, log, o.chatGUID, o.resync)
	}
	log.Info("mutation confirmed")
	c.publish(MutationEvent{MutationID: id, Kind: o.kind, ChatGUID: o.chatGUID, OK: true})
	return Result{OK: true, Message: o.done, ChatGUID: o.chatGUID}
}

// resync pulls the chat's newest messages through the reconciler. A
// failure here leaves the write confirmed; the next poller sweep catches up.
func (c *Coordinator) resync(ctx context.Context, log *zap.Logger, chatGUID string, limit int) {
	msgs, err := c.remote.ChatMessages(ctx, chatGUID, limit, 0)
	if err != nil {
		log.Warn("post-write resync fetch failed", zap.Error(err))
		return
	}
	if _, err := c.rec.ApplyMessages(ctx, msgs, chatGUID); err != nil {
		log.Warn("post-write resync apply failed", zap.Error(err))
	}
}

func (c *Coordinator) publish(evt MutationEvent) {
	if c.bus != nil {
		c.bus.Emit(bus.KindMutation, evt)
	}
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, fields[i])
		}
	}
	return nil
}

// SendText sends text to a chat.
func (c *Coordinator) SendText(ctx context.Context, chatGUID, text string) Result {
	if err := required("chat", chatGUID, "text", text); err != nil {
		return fail(err)
	}
	return c.run(ctx, op{kind: "send_text", chatGUID: chatGUID, resync: ResyncMessages, done: "message sent",
		call: func(ctx context.Context) error {
			_, err := c.remote.SendText(ctx, chatGUID, text)
			return err
		}})
}

// SendAttachment uploads the file at path with an optional caption.
func (c *Coordinator) SendAttachment(ctx context.Context, chatGUID, path, caption string) Result {
	if err := required("chat", chatGUID, "path", path); err != nil {
		return fail(err)
	}
	if fi, err := os.Stat(path); err != nil {
		return fail(fmt.Errorf("attachment: %w", err))
	} else if fi.IsDir() {
		return fail(fmt.Errorf("attachment: %s is a directory", path))
	}
	return c.run(ctx, op{kind: "send_attachment", chatGUID: chatGUID, resync: ResyncMessages, done: "attachment sent",
		call: func(ctx context.Context) error {
			_, err := c.remote.SendAttachment(ctx, chatGUID, path, caption)
			return err
		}})
}

// SendReaction sets a tapback on a message.
func (c *Coordinator) SendReaction(ctx context.Context, chatGUID, messageGUID, reaction string) Result {
	if err := required("chat", chatGUID, "message", messageGUID, "reaction", reaction); err != nil {
		return fail(err)
	}
	name, removed := store.ReactionName(reaction)
	if name == "" || removed {
		return fail(fmt.Errorf("unknown reaction %q", reaction))
	}
	reaction = name
	return c.run(ctx, op{kind: "react", chatGUID: chatGUID, target: messageGUID, resync: ResyncReactions, done: "reaction sent",
		call: func(ctx context.Context) error {
			_, err := c.remote.React(ctx, chatGUID, messageGUID, reaction)
			return err
		}})
}

// RemoveReaction clears the user's tapback on a message.
func (c *Coordinator) RemoveReaction(ctx context.Context, chatGUID, messageGUID string) Result {
	if err := required("chat", chatGUID, "message", messageGUID); err != nil {
		return fail(err)
	}
	removal := c.currentRemoval(messageGUID)
	return c.run(ctx, op{kind: "unreact", chatGUID: chatGUID, target: messageGUID, resync: ResyncReactions, done: "reaction removed",
		call: func(ctx context.Context) error {
			_, err := c.remote.React(ctx, chatGUID, messageGUID, removal)
			return err
		}})
}

// currentRemoval returns "-<name>" for the user's latest tapback on the
// message, or "" when it is not known locally.
func (c *Coordinator) currentRemoval(messageGUID string) string {
	events, err := c.db.ListReactionsFor(messageGUID)
	if err != nil {
		return ""
	}
	for i := len(events) - 1; i >= 0; i-- {
		if !events[i].FromMe {
			continue
		}
		name, removed := store.ReactionName(events[i].AssociatedType)
		if removed || name == "" {
			return ""
		}
		return "-" + name
	}
	return ""
}

// Edit replaces the text of a sent message.
func (c *Coordinator) Edit(ctx context.Context, chatGUID, messageGUID, text string) Result {
	if err := required("chat", chatGUID, "message", messageGUID, "text", text); err != nil {
		return fail(err)
	}
	return c.run(ctx, op{kind: "edit", chatGUID: chatGUID, target: messageGUID, resync: ResyncMessages, done: "message edited",
		call: func(ctx context.Context) error { return c.remote.Edit(ctx, messageGUID, text) }})
}

// Unsend retracts a sent message.
func (c *Coordinator) Unsend(ctx context.Context, chatGUID, messageGUID string) Result {
	if err := required("chat", chatGUID, "message", messageGUID); err != nil {
		return fail(err)
	}
	return c.run(ctx, op{kind: "unsend", chatGUID: chatGUID, target: messageGUID, resync: ResyncMessages, done: "message unsent",
		call: func(ctx context.Context) error { return c.remote.Unsend(ctx, messageGUID) }})
}

// SetTyping toggles the typing indicator. It changes no stored state, so
// no re-sync follows.
func (c *Coordinator) SetTyping(ctx context.Context, chatGUID string, typing bool) Result {
	if err := required("chat", chatGUID); err != nil {
		return fail(err)
	}
	return c.run(ctx, op{kind: "typing", chatGUID: chatGUID, done: "typing updated",
		call: func(ctx context.Context) error { return c.remote.SetTyping(ctx, chatGUID, typing) }})
}

// MarkRead marks a chat read and re-pulls it so read receipts land locally.
func (c *Coordinator) MarkRead(ctx context.Context, chatGUID string) Result {
	if err := required("chat", chatGUID); err != nil {
		return fail(err)
	}
	return c.run(ctx, op{kind: "mark_read", chatGUID: chatGUID, resync: ResyncMessages, done: "chat marked read",
		call: func(ctx context.Context) error { return c.remote.MarkRead(ctx, chatGUID) }})
}

// CreateChat starts a conversation with addresses. The new chat is applied
// to the store before its messages are re-synced. A failed local apply
// still reports success; the next chat list refresh stores it.
func (c *Coordinator) CreateChat(ctx context.Context, addresses []string, text string) Result {
	var clean []string
	for _, a := range addresses {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		return fail(fmt.Errorf("%w: addresses", ErrMissingField))
	}

	var created *remote.Chat
	res := c.run(ctx, op{kind: "create_chat", target: strings.Join(clean, ","), done: "chat created",
		call: func(ctx context.Context) error {
			chat, err := c.remote.CreateChat(ctx, clean, text)
			if err != nil {
				return err
			}
			if chat == nil || chat.GUID == "" {
				return errors.New("server returned no chat")
			}
			created = chat
			return nil
		}})
	if !res.OK || created == nil {
		return res
	}
	res.ChatGUID = created.GUID
	log := c.logger.With(zap.String("chat_guid", created.GUID))
	if err := c.rec.ApplyChats(ctx, []remote.Chat{*created}); err != nil {
		log.Warn("apply created chat failed", zap.Error(err))
		return res
	}
	c.resync(ctx, log, created.GUID, ResyncMessages)
	return res
}
