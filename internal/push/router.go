package push

import (
	"strings"

	"github.com/alexjbarnes/dmclient/internal/wire"
	"github.com/alexjbarnes/dmclient/platform"
)

// FrameClass is the coarse classification of an inbound frame, decided
// by target-path suffix. Request/response correlation in this protocol
// is by path, not by sequence number.
type FrameClass int

const (
	ClassUnknown FrameClass = iota
	ClassAuthAck
	ClassHeartbeatAck
	ClassSubscribeAck
	ClassNotification
)

func (c FrameClass) String() string {
	switch c {
	case ClassAuthAck:
		return "auth_ack"
	case ClassHeartbeatAck:
		return "heartbeat_ack"
	case ClassSubscribeAck:
		return "subscribe_ack"
	case ClassNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// classify decides the frame class from the target path.
func classify(targetPath string) FrameClass {
	switch {
	case strings.HasSuffix(targetPath, "/Auth"):
		return ClassAuthAck
	case strings.HasSuffix(targetPath, "/Heartbeat"):
		return ClassHeartbeatAck
	case strings.HasSuffix(targetPath, "/Subscribe"):
		return ClassSubscribeAck
	case strings.HasSuffix(targetPath, "/WatchNotify"):
		return ClassNotification
	default:
		return ClassUnknown
	}
}

// normalize decodes a notification body and extracts normalized events.
// The instant-message event (when present) comes first, then command
// events in extraction order. A frame may yield zero, one, or many
// events. Bodies with an unrecognized type url yield none; their raw
// bytes stay in the box for forward compatibility.
func normalize(box wire.TypedBox) ([]Event, error) {
	if box.TypeURL != wire.TypeURLNotifyRsp {
		return nil, nil
	}

	rsp, err := wire.UnmarshalNotifyRsp(box.Value)
	if err != nil {
		return nil, err
	}

	var out []Event
	var primary *Event

	// Primary instant-message event. The embedded notifyInfo hint wins
	// when present; otherwise the talker is derived from the message's
	// sender/receiver fields.
	switch {
	case rsp.NotifyInfo != nil:
		ev := Event{
			Kind:        EventInstantMessage,
			TalkerID:    rsp.NotifyInfo.TalkerID,
			SessionType: rsp.NotifyInfo.SessionType,
		}
		if rsp.Notify != nil {
			ev.Message = toMessage(rsp.Notify)
		}
		out = append(out, ev)
		primary = &out[0]
	case rsp.Notify != nil:
		talker, sessType := deriveTalker(rsp.Notify)
		out = append(out, Event{
			Kind:        EventInstantMessage,
			TalkerID:    talker,
			SessionType: sessType,
			Message:     toMessage(rsp.Notify),
		})
		primary = &out[0]
	}

	appendCommands := func(kind EventKind, ids []wire.SessionID) {
		for _, id := range ids {
			out = append(out, Event{
				Kind:        kind,
				TalkerID:    id.TalkerID(),
				SessionType: id.SessionType(),
			})
		}
	}
	appendCommands(EventSessionListChanged, rsp.UpdateSessionList)
	appendCommands(EventTotalUnreadChanged, rsp.UpdateTotalUnread)
	appendCommands(EventQuickLinkChanged, rsp.UpdateQuickLink)
	appendCommands(EventFetchMessageHint, dropRedundantHints(primary, rsp.FetchMessage))

	return out, nil
}

// dropRedundantHints filters fetch-message commands pointing at the
// session of this frame's own instant-message event: that event already
// carries (or triggers the fetch of) the new message. Suppression is
// per frame only; a standalone hint in a later frame always fetches.
func dropRedundantHints(primary *Event, ids []wire.SessionID) []wire.SessionID {
	if primary == nil {
		return ids
	}

	kept := ids[:0:0]
	for _, id := range ids {
		if id.TalkerID() == primary.TalkerID && id.SessionType() == primary.SessionType {
			continue
		}
		kept = append(kept, id)
	}

	return kept
}

// deriveTalker works out the conversation identity from an instant
// message without a notifyInfo hint: group messages key on the group id,
// direct messages on the peer who sent them.
func deriveTalker(n *wire.Notify) (int64, int32) {
	if n.ReceiverType == wire.SessionTypeGroup {
		return n.ReceiverID, platform.SessionTypeGroup
	}
	return n.SenderUID, platform.SessionTypeDirect
}
