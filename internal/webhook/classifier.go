package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nextlevelbuilder/warelay/internal/config"
)

// ErrClassification marks payloads that don't carry a usable message.
var ErrClassification = errors.New("unusable webhook payload")

// MessageType is the coarse kind of an inbound message after classification.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageLocation    MessageType = "location"
	MessageMedia       MessageType = "media"
	MessageUnsupported MessageType = "unsupported"
)

// Location is a shared-location message body.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Event is a classified webhook delivery. Exactly one of the cases holds:
// a non-target delivery (IsTargetAccount false), a status update
// (IsStatus true), or a user message (SenderID + Type set).
type Event struct {
	IsTargetAccount bool
	IsStatus        bool

	SenderID  string
	MessageID string
	Type      MessageType
	RawType   string // the wire type string, e.g. "image", "sticker"
	Text      string
	Location  *Location
	SentAt    int64 // unix seconds from the webhook, 0 when absent
}

// Wire shapes for the WhatsApp Business webhook payload. Only the fields
// the gateway reads are declared.
type payload struct {
	Entry []entry `json:"entry"`
}

type entry struct {
	Changes []change `json:"changes"`
}

type change struct {
	Value value `json:"value"`
}

type value struct {
	Metadata metadata          `json:"metadata"`
	Statuses []json.RawMessage `json:"statuses"`
	Messages []message         `json:"messages"`
}

type metadata struct {
	PhoneNumberID string `json:"phone_number_id"`
}

type message struct {
	From      string    `json:"from"`
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Type      string    `json:"type"`
	Text      *textBody `json:"text"`
	Location  *Location `json:"location"`
}

type textBody struct {
	Body string `json:"body"`
}

// mediaTypes are wire types the gateway recognises but does not relay.
var mediaTypes = map[string]bool{
	"image":    true,
	"audio":    true,
	"video":    true,
	"document": true,
	"sticker":  true,
}

// Classifier turns raw webhook bodies into Events. It reads the target
// phone number ID from live config so a reload takes effect immediately.
type Classifier struct {
	cfg *config.Store
}

func NewClassifier(cfg *config.Store) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify parses a webhook body. It returns a wrapped ErrClassification
// for payloads without a usable message; callers still acknowledge those
// deliveries with 200.
func (c *Classifier) Classify(body []byte) (*Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return nil, fmt.Errorf("%w: no changes", ErrClassification)
	}
	v := p.Entry[0].Changes[0].Value

	ev := &Event{
		IsTargetAccount: v.Metadata.PhoneNumberID == c.cfg.Current().Meta.PhoneNumberID,
	}
	if !ev.IsTargetAccount {
		return ev, nil
	}

	if len(v.Statuses) > 0 {
		ev.IsStatus = true
		return ev, nil
	}

	if len(v.Messages) == 0 {
		return nil, fmt.Errorf("%w: no messages or statuses", ErrClassification)
	}
	m := v.Messages[0]
	if m.From == "" {
		return nil, fmt.Errorf("%w: message without sender", ErrClassification)
	}

	ev.SenderID = m.From
	ev.MessageID = m.ID
	ev.RawType = m.Type
	if m.Timestamp != "" {
		ts, err := strconv.ParseInt(m.Timestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp %q", ErrClassification, m.Timestamp)
		}
		ev.SentAt = ts
	}

	switch {
	case m.Type == "text":
		if m.Text == nil {
			return nil, fmt.Errorf("%w: text message without body", ErrClassification)
		}
		ev.Type = MessageText
		ev.Text = m.Text.Body
	case m.Type == "location":
		if m.Location == nil {
			return nil, fmt.Errorf("%w: location message without coordinates", ErrClassification)
		}
		ev.Type = MessageLocation
		ev.Location = m.Location
	case mediaTypes[m.Type]:
		ev.Type = MessageMedia
	default:
		ev.Type = MessageUnsupported
	}
	return ev, nil
}
