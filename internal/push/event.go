package push

import (
	"github.com/alexjbarnes/dmclient/internal/wire"
	"github.com/alexjbarnes/dmclient/platform"
)

// EventKind classifies a normalized push event.
type EventKind int

const (
	// EventInstantMessage signals a new message for one session. Message
	// is set when the frame carried the full payload, nil when it was a
	// hint only (the consumer re-fetches).
	EventInstantMessage EventKind = iota + 1

	// EventSessionListChanged asks for a full session-list refresh.
	EventSessionListChanged

	// EventTotalUnreadChanged signals the total-unread badge moved; the
	// consumer refreshes the session list to recount.
	EventTotalUnreadChanged

	// EventFetchMessageHint points at a session with new messages. It is
	// informational when the same delivery carried an instant-message
	// event; it must not force a second fetch.
	EventFetchMessageHint

	// EventQuickLinkChanged is a UI-only concern downstream.
	EventQuickLinkChanged
)

func (k EventKind) String() string {
	switch k {
	case EventInstantMessage:
		return "instant_message"
	case EventSessionListChanged:
		return "session_list_changed"
	case EventTotalUnreadChanged:
		return "total_unread_changed"
	case EventFetchMessageHint:
		return "fetch_message_hint"
	case EventQuickLinkChanged:
		return "quick_link_changed"
	default:
		return "unknown"
	}
}

// Event is a normalized push notification, the reconciliation engine's
// primary input.
type Event struct {
	Kind        EventKind
	TalkerID    int64
	SessionType int32

	// Message is the full instant-message payload when the frame embedded
	// one; nil otherwise. The MsgKey inside stays a decimal string.
	Message *platform.Message
}

// toMessage converts a wire instant-message payload into the domain
// message record.
func toMessage(n *wire.Notify) *platform.Message {
	return &platform.Message{
		SenderUID:    n.SenderUID,
		ReceiverID:   n.ReceiverID,
		ReceiverType: n.ReceiverType,
		MsgType:      n.MsgType,
		Content:      n.Content,
		MsgSeqno:     n.MsgSeqno,
		Timestamp:    n.Timestamp,
		MsgKey:       n.MsgKey,
		Status:       n.MsgStatus,
	}
}
