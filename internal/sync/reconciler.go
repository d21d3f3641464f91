package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/bubbled/internal/remote"
	"github.com/matheus3301/bubbled/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys kept in sync_state.
const (
	CheckpointChatSync = "last_chat_sync"
	CheckpointSweep    = "last_sweep"
)

// Reconciler applies server payloads to the record store. Applying the
// same payload twice leaves the store unchanged.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// ApplyChats upserts each chat with its participants and embedded preview.
// It stops at the first storage error.
func (r *Reconciler) ApplyChats(ctx context.Context, chats []remote.Chat) error {
	for _, p := range chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.GUID == "" {
			continue
		}
		if err := r.db.UpsertChat(ChatFromPayload(p)); err != nil {
			return fmt.Errorf("apply chat %q: %w", p.GUID, err)
		}
	}
	r.logger.Debug("chats applied", zap.Int("count", len(chats)))
	return nil
}

// ApplyMessages upserts msgs into chatGUID and returns the GUIDs of those
// created after the chat's previous newest message. Updates to messages at
// or below that watermark are stored but never reported as new.
func (r *Reconciler) ApplyMessages(ctx context.Context, msgs []remote.Message, chatGUID string) (map[string]struct{}, error) {
	watermark, err := r.db.LatestMessageTimestamp(chatGUID)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	fresh := make(map[string]struct{})
	for _, p := range msgs {
		if err := ctx.Err(); err != nil {
			return fresh, err
		}
		if p.GUID == "" {
			continue
		}
		if err := r.db.UpsertMessage(MessageFromPayload(p, chatGUID)); err != nil {
			return fresh, fmt.Errorf("apply message %q: %w", p.GUID, err)
		}
		if p.DateCreated > watermark {
			fresh[p.GUID] = struct{}{}
		}
	}
	return fresh, nil
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	return r.db.SetCheckpoint(key, value)
}

// GetCheckpoint retrieves a sync checkpoint value.
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	return r.db.Checkpoint(key)
}

// HandleFromPayload maps a server handle. It returns nil for a missing
// handle or one without a row id.
func HandleFromPayload(h *remote.Handle) *store.Handle {
	if h == nil || h.OriginalROWID == 0 {
		return nil
	}
	return &store.Handle{
		RowID:           h.OriginalROWID,
		Address:         h.Address,
		Country:         h.Country,
		Uncanonicalized: h.UncanonicalizedID,
	}
}

// ChatFromPayload maps a server chat. Participants stay nil when the
// payload carried none, so the stored membership is kept.
func ChatFromPayload(p remote.Chat) *store.Chat {
	c := &store.Chat{
		RowID:       p.OriginalROWID,
		GUID:        p.GUID,
		Identifier:  p.ChatIdentifier,
		Style:       p.Style,
		Archived:    p.IsArchived,
		Filtered:    p.IsFiltered,
		DisplayName: p.DisplayName,
		GroupID:     p.GroupID,
	}
	if p.Participants != nil {
		c.Participants = make([]store.Handle, 0, len(p.Participants))
		for i := range p.Participants {
			if h := HandleFromPayload(&p.Participants[i]); h != nil {
				c.Participants = append(c.Participants, *h)
			}
		}
	}
	if lm := p.LastMessage; lm != nil {
		c.LastMessage = store.Preview{
			Text:   lm.Text,
			Date:   lm.DateCreated,
			FromMe: lm.IsFromMe,
		}
		if lm.Handle != nil {
			c.LastMessage.Address = lm.Handle.Address
		}
	}
	return c
}

// MessageFromPayload maps a server message into chatGUID. Attachments are
// kept as their raw JSON.
func MessageFromPayload(p remote.Message, chatGUID string) *store.Message {
	m := &store.Message{
		RowID:                p.OriginalROWID,
		GUID:                 p.GUID,
		ChatGUID:             chatGUID,
		Handle:               HandleFromPayload(p.Handle),
		Text:                 p.Text,
		Subject:              p.Subject,
		DateCreated:          p.DateCreated,
		DateRead:             p.DateRead,
		DateDelivered:        p.DateDelivered,
		DateEdited:           p.DateEdited,
		DateRetracted:        p.DateRetracted,
		FromMe:               p.IsFromMe,
		Delayed:              p.IsDelayed,
		AutoReply:            p.IsAutoReply,
		SystemMessage:        p.IsSystemMessage,
		ServiceMessage:       p.IsServiceMessage,
		Forward:              p.IsForward,
		Archived:             p.IsArchived,
		AudioMessage:         p.IsAudioMessage,
		HasDDResults:         p.HasDDResults,
		Expired:              p.IsExpired,
		ItemType:             p.ItemType,
		GroupTitle:           p.GroupTitle,
		GroupActionType:      p.GroupActionType,
		BalloonBundleID:      p.BalloonBundleID,
		AssociatedGUID:       p.AssociatedMessageGUID,
		AssociatedType:       string(p.AssociatedMessageType),
		ExpressiveSendStyle:  p.ExpressiveSendStyleID,
		ThreadOriginatorGUID: p.ThreadOriginatorGUID,
	}
	if m.Handle != nil {
		m.HandleAddress = m.Handle.Address
	}
	if len(p.Attachments) > 0 {
		if b, err := json.Marshal(p.Attachments); err == nil {
			m.AttachmentsJSON = string(b)
		}
	}
	m.Kind = store.Classify(m.AssociatedGUID, m.AssociatedType)
	return m
}
