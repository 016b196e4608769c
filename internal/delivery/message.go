package delivery

import (
	"fmt"
	"strings"
	"time"
)

// MsgType is the transport message kind. The set is closed.
type MsgType int

const (
	MsgText     MsgType = 0
	MsgMarkdown MsgType = 2
	MsgArk      MsgType = 3
	MsgEmbed    MsgType = 4
	MsgMedia    MsgType = 7
)

func (t MsgType) Valid() bool {
	switch t {
	case MsgText, MsgMarkdown, MsgArk, MsgEmbed, MsgMedia:
		return true
	default:
		return false
	}
}

func (t MsgType) String() string {
	switch t {
	case MsgText:
		return "text"
	case MsgMarkdown:
		return "markdown"
	case MsgArk:
		return "ark"
	case MsgEmbed:
		return "embed"
	case MsgMedia:
		return "media"
	default:
		return fmt.Sprintf("msgtype(%d)", int(t))
	}
}

// ParseMsgType accepts either the name ("markdown") or the numeric code ("2").
// An empty string means text.
func ParseMsgType(s string) (MsgType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "text", "0":
		return MsgText, nil
	case "markdown", "md", "2":
		return MsgMarkdown, nil
	case "ark", "3":
		return MsgArk, nil
	case "embed", "4":
		return MsgEmbed, nil
	case "media", "7":
		return MsgMedia, nil
	}
	return 0, &ValidationError{Field: "msg_type", Err: ErrInvalidMessageType}
}

// Media is an optional attachment.
type Media struct {
	// FileType is "photo", "video", "audio" or "document". Empty means photo.
	FileType string `json:"file_type,omitempty"`
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
}

// Message is one unit of outbound work.
//
// RetryCount and Seq are mutated by the Controller during Send.
type Message struct {
	GroupID string  `json:"group_id"`
	MsgType MsgType `json:"msg_type"`
	Content string  `json:"content"`
	MsgID   string  `json:"msg_id"`
	Media   *Media  `json:"media,omitempty"`

	RetryCount int       `json:"retry_count"`
	Seq        int       `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMessage returns a validated message stamped with the current time.
func NewMessage(groupID string, t MsgType, content, msgID string) (Message, error) {
	m := Message{GroupID: groupID, MsgType: t, Content: content, MsgID: msgID, Timestamp: time.Now()}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the fields every message must carry before it is queued or sent.
func (m *Message) Validate() error {
	if m == nil {
		return &ValidationError{Field: "message", Err: ErrInvalidMessage}
	}
	if strings.TrimSpace(m.GroupID) == "" {
		return &ValidationError{Field: "group_id", Err: ErrEmptyGroupID}
	}
	if !m.MsgType.Valid() {
		return &ValidationError{Field: "msg_type", Err: ErrInvalidMessageType}
	}
	if m.Content == "" {
		return &ValidationError{Field: "content", Err: ErrEmptyContent}
	}
	if m.MsgID == "" {
		return &ValidationError{Field: "msg_id", Err: ErrEmptyMsgID}
	}
	if m.MsgType == MsgMedia && (m.Media == nil || strings.TrimSpace(m.Media.URL) == "") {
		return &ValidationError{Field: "media", Err: ErrMissingMedia}
	}
	return nil
}

// Delivery is what the Transport receives for one attempt.
type Delivery struct {
	GroupID string
	MsgType MsgType
	Content string
	Seq     int
	MsgID   string
	Media   *Media
}
