package wire

import (
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// Notify is the instant-message payload embedded in a push notification.
//
// MsgKey is a fixed64 on the wire but carried as its decimal string in
// Go. Server-assigned keys exceed 2^53, so routing them through any
// float-backed number type would corrupt the low digits. The string is
// the canonical in-memory representation end-to-end.
type Notify struct {
	SenderUID    int64   // field 1
	ReceiverType int32   // field 2
	ReceiverID   int64   // field 3
	MsgType      int32   // field 4
	Content      string  // field 5
	MsgSeqno     int64   // field 6
	Timestamp    int64   // field 7
	AtUIDs       []int64 // field 8, repeated
	MsgKey       string  // field 9, fixed64 on the wire
	MsgStatus    int32   // field 10
	NotifyCode   int32   // field 11
	MsgSource    int32   // field 12
}

// NotifyInfo is the talker hint the server attaches alongside the
// instant message. Preferred over deriving the talker from the message's
// sender/receiver fields when present.
type NotifyInfo struct {
	TalkerID    int64 // field 1
	SessionType int32 // field 2
	MsgType     int32 // field 3
}

// SessionID is the discriminated session identifier used by command
// sub-messages. Exactly one field is set; the populated field decides
// both the talker id and the session type.
type SessionID struct {
	PrivateID  int64 // field 1: direct-message peer uid
	GroupID    int64 // field 2
	FoldID     int64 // field 3
	SystemID   int64 // field 4
	CustomerID int64 // field 5
}

// Session types derived from a SessionID variant.
const (
	SessionTypeDirect int32 = 1
	SessionTypeGroup  int32 = 2
	SessionTypeFold   int32 = 3
	SessionTypeSystem int32 = 4
	SessionTypeCustom int32 = 5
)

// TalkerID returns the id of whichever variant is populated.
func (s SessionID) TalkerID() int64 {
	switch {
	case s.PrivateID != 0:
		return s.PrivateID
	case s.GroupID != 0:
		return s.GroupID
	case s.FoldID != 0:
		return s.FoldID
	case s.SystemID != 0:
		return s.SystemID
	default:
		return s.CustomerID
	}
}

// SessionType returns the session type implied by the populated variant.
func (s SessionID) SessionType() int32 {
	switch {
	case s.PrivateID != 0:
		return SessionTypeDirect
	case s.GroupID != 0:
		return SessionTypeGroup
	case s.FoldID != 0:
		return SessionTypeFold
	case s.SystemID != 0:
		return SessionTypeSystem
	default:
		return SessionTypeCustom
	}
}

// NotifyRsp is the notification-channel body: an optional instant
// message, an optional talker hint, and zero or more command
// sub-messages. One frame may carry any combination.
type NotifyRsp struct {
	Notify            *Notify     // field 1
	NotifyInfo        *NotifyInfo // field 2
	UpdateSessionList []SessionID // field 3, repeated
	UpdateTotalUnread []SessionID // field 4, repeated
	UpdateQuickLink   []SessionID // field 5, repeated
	FetchMessage      []SessionID // field 6, repeated
}

// Marshal encodes the instant-message payload. Fails only when MsgKey
// is set but is not an unsigned decimal integer.
func (m *Notify) Marshal() ([]byte, error) {
	var b []byte
	if m.SenderUID != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.SenderUID))
	}
	if m.ReceiverType != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.ReceiverType)))
	}
	if m.ReceiverID != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ReceiverID))
	}
	if m.MsgType != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.MsgType)))
	}
	if m.Content != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, m.Content)
	}
	if m.MsgSeqno != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.MsgSeqno))
	}
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Timestamp))
	}
	for _, uid := range m.AtUIDs {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uid))
	}
	if m.MsgKey != "" {
		key, err := strconv.ParseUint(m.MsgKey, 10, 64)
		if err != nil {
			return nil, malformed("notify: msg_key %q is not an unsigned decimal", m.MsgKey)
		}
		b = protowire.AppendTag(b, 9, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, key)
	}
	if m.MsgStatus != 0 {
		b = protowire.AppendTag(b, 10, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.MsgStatus)))
	}
	if m.NotifyCode != 0 {
		b = protowire.AppendTag(b, 11, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.NotifyCode)))
	}
	if m.MsgSource != 0 {
		b = protowire.AppendTag(b, 12, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.MsgSource)))
	}
	return b, nil
}

// UnmarshalNotify decodes an instant-message payload. The msg_key
// fixed64 is converted straight to its decimal string.
func UnmarshalNotify(b []byte) (*Notify, error) {
	m := &Notify{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("notify: truncated tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated sender_uid")
			}
			m.SenderUID = int64(v)
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated receiver_type")
			}
			m.ReceiverType = int32(v)
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated receiver_id")
			}
			m.ReceiverID = int64(v)
			b = b[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated msg_type")
			}
			m.MsgType = int32(v)
			b = b[n:]
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("notify: truncated content")
			}
			m.Content = string(v)
			b = b[n:]
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated msg_seqno")
			}
			m.MsgSeqno = int64(v)
			b = b[n:]
		case num == 7 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated timestamp")
			}
			m.Timestamp = int64(v)
			b = b[n:]
		case num == 8 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated at_uid")
			}
			m.AtUIDs = append(m.AtUIDs, int64(v))
			b = b[n:]
		case num == 9 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, malformed("notify: truncated msg_key")
			}
			m.MsgKey = strconv.FormatUint(v, 10)
			b = b[n:]
		case num == 10 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated msg_status")
			}
			m.MsgStatus = int32(v)
			b = b[n:]
		case num == 11 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated notify_code")
			}
			m.NotifyCode = int32(v)
			b = b[n:]
		case num == 12 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify: truncated msg_source")
			}
			m.MsgSource = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("notify: bad field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// Marshal encodes the talker hint.
func (i *NotifyInfo) Marshal() []byte {
	var b []byte
	if i.TalkerID != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(i.TalkerID))
	}
	if i.SessionType != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(i.SessionType)))
	}
	if i.MsgType != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(i.MsgType)))
	}
	return b
}

func unmarshalNotifyInfo(b []byte) (*NotifyInfo, error) {
	i := &NotifyInfo{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("notify info: truncated tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify info: truncated talker_id")
			}
			i.TalkerID = int64(v)
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify info: truncated session_type")
			}
			i.SessionType = int32(v)
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("notify info: truncated msg_type")
			}
			i.MsgType = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("notify info: bad field %d", num)
			}
			b = b[n:]
		}
	}
	return i, nil
}

// Marshal encodes the session id variant.
func (s *SessionID) Marshal() []byte {
	var b []byte
	appendID := func(num protowire.Number, v int64) {
		if v != 0 {
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(v))
		}
	}
	appendID(1, s.PrivateID)
	appendID(2, s.GroupID)
	appendID(3, s.FoldID)
	appendID(4, s.SystemID)
	appendID(5, s.CustomerID)
	return b
}

func unmarshalSessionID(b []byte) (SessionID, error) {
	var s SessionID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, malformed("session id: truncated tag")
		}
		b = b[n:]
		if typ != protowire.VarintType || num < 1 || num > 5 {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, malformed("session id: bad field %d", num)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return s, malformed("session id: truncated id")
		}
		switch num {
		case 1:
			s.PrivateID = int64(v)
		case 2:
			s.GroupID = int64(v)
		case 3:
			s.FoldID = int64(v)
		case 4:
			s.SystemID = int64(v)
		case 5:
			s.CustomerID = int64(v)
		}
		b = b[n:]
	}
	return s, nil
}

// Marshal encodes the notification-channel body.
func (r *NotifyRsp) Marshal() ([]byte, error) {
	var b []byte
	if r.Notify != nil {
		nb, err := r.Notify.Marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, nb)
	}
	if r.NotifyInfo != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, r.NotifyInfo.Marshal())
	}
	appendIDs := func(num protowire.Number, ids []SessionID) {
		for i := range ids {
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendBytes(b, ids[i].Marshal())
		}
	}
	appendIDs(3, r.UpdateSessionList)
	appendIDs(4, r.UpdateTotalUnread)
	appendIDs(5, r.UpdateQuickLink)
	appendIDs(6, r.FetchMessage)
	return b, nil
}

// UnmarshalNotifyRsp decodes a notification-channel body.
func UnmarshalNotifyRsp(b []byte) (*NotifyRsp, error) {
	r := &NotifyRsp{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("notify rsp: truncated tag")
		}
		b = b[n:]
		if typ != protowire.BytesType || num < 1 || num > 6 {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("notify rsp: bad field %d", num)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, malformed("notify rsp: truncated field %d", num)
		}
		switch num {
		case 1:
			msg, err := UnmarshalNotify(v)
			if err != nil {
				return nil, err
			}
			r.Notify = msg
		case 2:
			info, err := unmarshalNotifyInfo(v)
			if err != nil {
				return nil, err
			}
			r.NotifyInfo = info
		default:
			id, err := unmarshalSessionID(v)
			if err != nil {
				return nil, err
			}
			switch num {
			case 3:
				r.UpdateSessionList = append(r.UpdateSessionList, id)
			case 4:
				r.UpdateTotalUnread = append(r.UpdateTotalUnread, id)
			case 5:
				r.UpdateQuickLink = append(r.UpdateQuickLink, id)
			case 6:
				r.FetchMessage = append(r.FetchMessage, id)
			}
		}
		b = b[n:]
	}
	return r, nil
}
