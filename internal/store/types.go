package store

import (
	"encoding/json"
	"strings"
)

// StyleGroup is the chat style BlueBubbles reports for group conversations.
const StyleGroup = 43

// Handle represents a participant identity.
type Handle struct {
	RowID           int64
	Address         string
	Country         string
	Uncanonicalized string
}

// Preview is the denormalized last message shown in chat lists.
type Preview struct {
	Text    string
	Date    int64
	FromMe  bool
	Address string
}

// Chat represents a cached conversation.
type Chat struct {
	RowID       int64
	GUID        string
	Identifier  string
	Style       int
	Archived    bool
	Filtered    bool
	DisplayName string
	GroupID     string
	LastMessage Preview

	// Participants replaces the chat's membership on upsert when non-nil.
	// A nil slice leaves existing membership untouched.
	Participants []Handle
}

// IsGroup reports whether the chat is a group conversation.
func (c *Chat) IsGroup() bool {
	return c.Style == StyleGroup || len(c.Participants) > 1
}

// Title returns the name a chat list should render.
func (c *Chat) Title() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if len(c.Participants) > 0 {
		names := make([]string, 0, 3)
		for _, p := range c.Participants[:min(len(c.Participants), 3)] {
			names = append(names, p.Address)
		}
		return strings.Join(names, ", ")
	}
	return c.Identifier
}

// EventKind discriminates the two kinds of rows in the messages table.
type EventKind int

const (
	// KindMessage is standalone conversation content.
	KindMessage EventKind = iota
	// KindReaction is a tapback on another message.
	KindReaction
)

func (k EventKind) String() string {
	if k == KindReaction {
		return "reaction"
	}
	return "message"
}

// Classify returns the event kind implied by the associated-message fields.
func Classify(associatedGUID, associatedType string) EventKind {
	if associatedGUID != "" && associatedType != "" {
		return KindReaction
	}
	return KindMessage
}

// Message is one conversation event row. Kind is filled in by every reader.
type Message struct {
	ID            int64
	RowID         int64
	GUID          string
	ChatGUID      string
	Handle        *Handle
	HandleAddress string
	Text          string
	Subject       string

	DateCreated   int64
	DateRead      int64
	DateDelivered int64
	DateEdited    int64
	DateRetracted int64

	FromMe          bool
	Delayed         bool
	AutoReply       bool
	SystemMessage   bool
	ServiceMessage  bool
	Forward         bool
	Archived        bool
	AudioMessage    bool
	HasDDResults    bool
	Expired         bool
	ItemType        int
	GroupTitle      string
	GroupActionType int
	BalloonBundleID string

	AssociatedGUID       string
	AssociatedType       string
	ExpressiveSendStyle  string
	ThreadOriginatorGUID string

	// AttachmentsJSON is the opaque attachment blob written on upsert.
	AttachmentsJSON string
	// Attachments is the best-effort parse of AttachmentsJSON on read.
	Attachments []Attachment

	Kind EventKind
}

// IsReaction reports whether the row is a tapback event.
func (m *Message) IsReaction() bool {
	return m.Kind == KindReaction
}

// Attachment is attachment metadata carried inside a message row.
type Attachment struct {
	GUID         string          `json:"guid"`
	MimeType     string          `json:"mimeType,omitempty"`
	TransferName string          `json:"transferName,omitempty"`
	UTI          string          `json:"uti,omitempty"`
	TotalBytes   int64           `json:"totalBytes,omitempty"`
	Width        int             `json:"width,omitempty"`
	Height       int             `json:"height,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// Badge is an aggregated reaction count rendered on a message.
type Badge struct {
	Reaction string
	Count    int
	FromMe   bool
}

// ThreadItem is a visible message together with the reactions targeting it.
type ThreadItem struct {
	Message   Message
	Reactions []Message
	Badges    []Badge
}

// Stats summarizes the cached record counts.
type Stats struct {
	Chats     int64
	Messages  int64
	Handles   int64
	Reactions int64
}

// MutationEntry is a journaled user write.
type MutationEntry struct {
	ID           int64
	MutationID   string
	Kind         string
	ChatGUID     string
	TargetGUID   string
	Status       string // pending, sent, failed
	ErrorMessage string
	CreatedAt    int64
	UpdatedAt    int64
}
