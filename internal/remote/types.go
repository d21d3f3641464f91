package remote

import (
	"bytes"
	"encoding/json"
)

// envelope is the wrapper every JSON endpoint responds with.
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// FlexString decodes a JSON string or number into a string. The server
// reports associatedMessageType as either "love" or 2000 depending on
// version.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// ServerInfo is the subset of /server/info the daemon reports.
type ServerInfo struct {
	OSVersion      string `json:"os_version"`
	ServerVersion  string `json:"server_version"`
	PrivateAPI     bool   `json:"private_api"`
	ProxyService   string `json:"proxy_service"`
	DetectedICloud string `json:"detected_icloud"`
}

// Handle is a participant as the server reports it.
type Handle struct {
	OriginalROWID     int64  `json:"originalROWID"`
	Address           string `json:"address"`
	Country           string `json:"country"`
	UncanonicalizedID string `json:"uncanonicalizedId"`
}

// Chat is a conversation payload from /chat/query or /chat/new.
type Chat struct {
	OriginalROWID  int64    `json:"originalROWID"`
	GUID           string   `json:"guid"`
	ChatIdentifier string   `json:"chatIdentifier"`
	Style          int      `json:"style"`
	IsArchived     bool     `json:"isArchived"`
	IsFiltered     bool     `json:"isFiltered"`
	DisplayName    string   `json:"displayName"`
	GroupID        string   `json:"groupId"`
	Participants   []Handle `json:"participants"`
	LastMessage    *Message `json:"lastMessage"`
}

// Message is a conversation event payload.
type Message struct {
	OriginalROWID int64   `json:"originalROWID"`
	GUID          string  `json:"guid"`
	Text          string  `json:"text"`
	Subject       string  `json:"subject"`
	Handle        *Handle `json:"handle"`
	HandleID      int64   `json:"handleId"`

	DateCreated   int64 `json:"dateCreated"`
	DateRead      int64 `json:"dateRead"`
	DateDelivered int64 `json:"dateDelivered"`
	DateEdited    int64 `json:"dateEdited"`
	DateRetracted int64 `json:"dateRetracted"`

	IsFromMe         bool   `json:"isFromMe"`
	IsDelayed        bool   `json:"isDelayed"`
	IsAutoReply      bool   `json:"isAutoReply"`
	IsSystemMessage  bool   `json:"isSystemMessage"`
	IsServiceMessage bool   `json:"isServiceMessage"`
	IsForward        bool   `json:"isForward"`
	IsArchived       bool   `json:"isArchived"`
	IsAudioMessage   bool   `json:"isAudioMessage"`
	HasDDResults     bool   `json:"hasDdResults"`
	IsExpired        bool   `json:"isExpired"`
	ItemType         int    `json:"itemType"`
	GroupTitle       string `json:"groupTitle"`
	GroupActionType  int    `json:"groupActionType"`
	BalloonBundleID  string `json:"balloonBundleId"`

	AssociatedMessageGUID string     `json:"associatedMessageGuid"`
	AssociatedMessageType FlexString `json:"associatedMessageType"`
	ExpressiveSendStyleID string     `json:"expressiveSendStyleId"`
	ThreadOriginatorGUID  string     `json:"threadOriginatorGuid"`

	Attachments []json.RawMessage `json:"attachments"`
	Chats       []Chat            `json:"chats"`
}

// AttachmentInfo is attachment metadata from /attachment/{guid}.
type AttachmentInfo struct {
	GUID         string `json:"guid"`
	MimeType     string `json:"mimeType"`
	TransferName string `json:"transferName"`
	UTI          string `json:"uti"`
	TotalBytes   int64  `json:"totalBytes"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// Contact is a contact card from /contact/{address}.
type Contact struct {
	DisplayName string `json:"displayName"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Avatar      string `json:"avatar"` // base64
}
