package domain

import (
	"context"
	"strings"
	"time"
)

// ContentType classifies an inbound or outbound content item.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeImage    ContentType = "image"
	ContentTypeVideo    ContentType = "video"
	ContentTypeDocument ContentType = "document"
	// ContentTypeInterval is a template pseudo-item: a pause between the
	// surrounding items instead of something to send.
	ContentTypeInterval ContentType = "interval"
)

// InboundMessage is one normalized chat event, produced by the webhook
// adapter and consumed only by the debouncer. Immutable once constructed.
type InboundMessage struct {
	MessageID            string      `json:"message_id"`
	ConversationKey      string      `json:"conversation_key"`
	Phone                string      `json:"phone"`
	ContentType          ContentType `json:"content_type"`
	Content              string      `json:"content"`
	MediaURL             string      `json:"media_url,omitempty"`
	MediaDurationSeconds int         `json:"media_duration_seconds,omitempty"`
	IsFromSelf           bool        `json:"is_from_self"`
	Timestamp            time.Time   `json:"timestamp"`
	TenantID             string      `json:"tenant_id"`
}

// MessagePacket is the aggregated result of a drained debounce buffer,
// handed to downstream processing as one unit. Messages preserve arrival
// order; the packet is never mutated after creation.
type MessagePacket struct {
	ConversationKey   string
	TenantID          string
	Phone             string
	Messages          []InboundMessage
	CombinedText      string
	HasAudio          bool
	TotalAudioSeconds int
	FirstMessageAt    time.Time
	LastMessageAt     time.Time
}

// NewMessagePacket builds a packet from buffered messages in arrival order,
// computing the derived fields. Returns nil for an empty slice.
func NewMessagePacket(tenantID, conversationKey string, messages []InboundMessage) *MessagePacket {
	if len(messages) == 0 {
		return nil
	}

	pkt := &MessagePacket{
		ConversationKey: conversationKey,
		TenantID:        tenantID,
		Messages:        messages,
	}

	var texts []string
	for _, m := range messages {
		if pkt.Phone == "" {
			pkt.Phone = m.Phone
		}
		if pkt.FirstMessageAt.IsZero() || m.Timestamp.Before(pkt.FirstMessageAt) {
			pkt.FirstMessageAt = m.Timestamp
		}
		if m.Timestamp.After(pkt.LastMessageAt) {
			pkt.LastMessageAt = m.Timestamp
		}
		switch m.ContentType {
		case ContentTypeText:
			if t := strings.TrimSpace(m.Content); t != "" {
				texts = append(texts, t)
			}
		case ContentTypeAudio:
			pkt.HasAudio = true
			pkt.TotalAudioSeconds += m.MediaDurationSeconds
		}
	}
	pkt.CombinedText = strings.Join(texts, "\n")

	return pkt
}

// ContentItem is one outbound item resolved from a template.
type ContentItem struct {
	ContentType     ContentType `json:"content_type"`
	Content         string      `json:"content,omitempty"`
	MediaURL        string      `json:"media_url,omitempty"`
	MediaCaption    string      `json:"media_caption,omitempty"`
	SendAsVoice     bool        `json:"send_as_voice,omitempty"`
	IntervalSeconds int         `json:"interval_seconds,omitempty"` // only for ContentTypeInterval
}

// Sender is the outbound transport to the chat provider. Delivery is best
// effort; the provider confirms asynchronously.
type Sender interface {
	SendText(ctx context.Context, tenantID, phone, content string) (messageID string, err error)
	SendContent(ctx context.Context, tenantID, phone string, item ContentItem) (messageID string, err error)
}

// ResponseGenerator is the opaque AI/response logic, invoked by a handler
// registered on the debouncer, never by the debouncer itself.
type ResponseGenerator interface {
	Generate(ctx context.Context, packet MessagePacket) (reply string, err error)
}
