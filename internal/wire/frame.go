package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	apperrors "github.com/alexjbarnes/dmclient/internal/errors"
)

// Status carries the result code on acknowledgment and error frames.
type Status struct {
	Code    int32  // field 1
	Message string // field 2
}

// FrameOptions is the envelope metadata on every frame.
type FrameOptions struct {
	Seq       int64   // field 1: strictly increasing per connection, resets to 1 on reconnect
	IsAck     bool    // field 2
	Status    *Status // field 3: present on acks and errors
	AckOrigin string  // field 4
	Timestamp int64   // field 5: unix millis
	MsgType   int32   // field 6
}

// TypedBox is a self-describing body envelope: a type-identifier string
// plus the nested encoded bytes. The router inspects TypeURL before
// deciding whether (and how) to decode Value.
type TypedBox struct {
	TypeURL string // field 1
	Value   []byte // field 2
}

// Frame is one unit of wire exchange on the push connection.
type Frame struct {
	Options    FrameOptions // field 1
	TargetPath string       // field 2
	Body       TypedBox     // field 3
}

// AuthReq is the body of the first frame sent after the socket opens.
// It carries only the client's connection identity; credentials ride in
// the dial headers.
type AuthReq struct {
	GUID      string // field 1
	ConnID    string // field 2
	LastMsgID int64  // field 3
}

// SubscribeReq registers interest in notification target paths.
type SubscribeReq struct {
	TargetPaths []string // field 1, repeated
}

// HeartbeatReq is the (empty) keepalive body.
type HeartbeatReq struct{}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// Marshal encodes the status message.
func (s *Status) Marshal() []byte {
	var b []byte
	if s.Code != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(s.Code)))
	}
	if s.Message != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, s.Message)
	}
	return b
}

func unmarshalStatus(b []byte) (*Status, error) {
	s := &Status{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("status: truncated tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("status: truncated code")
			}
			s.Code = int32(v)
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("status: truncated message")
			}
			s.Message = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("status: bad field %d", num)
			}
			b = b[n:]
		}
	}
	return s, nil
}

// Marshal encodes the frame options.
func (o *FrameOptions) Marshal() []byte {
	var b []byte
	if o.Seq != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(o.Seq))
	}
	if o.IsAck {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if o.Status != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, o.Status.Marshal())
	}
	if o.AckOrigin != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, o.AckOrigin)
	}
	if o.Timestamp != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(o.Timestamp))
	}
	if o.MsgType != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(o.MsgType)))
	}
	return b
}

func unmarshalFrameOptions(b []byte) (FrameOptions, error) {
	var o FrameOptions
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return o, malformed("options: truncated tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, malformed("options: truncated seq")
			}
			o.Seq = int64(v)
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, malformed("options: truncated is_ack")
			}
			o.IsAck = v != 0
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, malformed("options: truncated status")
			}
			st, err := unmarshalStatus(v)
			if err != nil {
				return o, err
			}
			o.Status = st
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return o, malformed("options: truncated ack_origin")
			}
			o.AckOrigin = string(v)
			b = b[n:]
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, malformed("options: truncated timestamp")
			}
			o.Timestamp = int64(v)
			b = b[n:]
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, malformed("options: truncated msg_type")
			}
			o.MsgType = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return o, malformed("options: bad field %d", num)
			}
			b = b[n:]
		}
	}
	return o, nil
}

// Marshal encodes the typed box.
func (t *TypedBox) Marshal() []byte {
	var b []byte
	if t.TypeURL != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, t.TypeURL)
	}
	if len(t.Value) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Value)
	}
	return b
}

func unmarshalTypedBox(b []byte) (TypedBox, error) {
	var t TypedBox
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return t, malformed("typed box: truncated tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return t, malformed("typed box: truncated type_url")
			}
			t.TypeURL = string(v)
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return t, malformed("typed box: truncated value")
			}
			t.Value = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, malformed("typed box: bad field %d", num)
			}
			b = b[n:]
		}
	}
	return t, nil
}

// Marshal encodes the full frame for transmission.
func (f *Frame) Marshal() []byte {
	var b []byte
	opts := f.Options.Marshal()
	if len(opts) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, opts)
	}
	if f.TargetPath != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, f.TargetPath)
	}
	body := f.Body.Marshal()
	if len(body) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}
	return b
}

// UnmarshalFrame decodes a frame envelope. The body's nested value is
// left encoded; callers decode it after inspecting Body.TypeURL.
func UnmarshalFrame(b []byte) (*Frame, error) {
	f := &Frame{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("frame: truncated tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("frame: truncated options")
			}
			opts, err := unmarshalFrameOptions(v)
			if err != nil {
				return nil, err
			}
			f.Options = opts
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("frame: truncated target_path")
			}
			f.TargetPath = string(v)
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("frame: truncated body")
			}
			box, err := unmarshalTypedBox(v)
			if err != nil {
				return nil, err
			}
			f.Body = box
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("frame: bad field %d", num)
			}
			b = b[n:]
		}
	}
	return f, nil
}

// Marshal encodes the auth request body.
func (a *AuthReq) Marshal() []byte {
	var b []byte
	if a.GUID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, a.GUID)
	}
	if a.ConnID != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, a.ConnID)
	}
	if a.LastMsgID != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.LastMsgID))
	}
	return b
}

// UnmarshalAuthReq decodes an auth request body.
func UnmarshalAuthReq(b []byte) (*AuthReq, error) {
	a := &AuthReq{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("auth: truncated tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("auth: truncated guid")
			}
			a.GUID = string(v)
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("auth: truncated conn_id")
			}
			a.ConnID = string(v)
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("auth: truncated last_msg_id")
			}
			a.LastMsgID = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("auth: bad field %d", num)
			}
			b = b[n:]
		}
	}
	return a, nil
}

// Marshal encodes the subscribe request body.
func (s *SubscribeReq) Marshal() []byte {
	var b []byte
	for _, p := range s.TargetPaths {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, p)
	}
	return b
}

// UnmarshalSubscribeReq decodes a subscribe request body.
func UnmarshalSubscribeReq(b []byte) (*SubscribeReq, error) {
	s := &SubscribeReq{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("subscribe: truncated tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("subscribe: truncated target_path")
			}
			s.TargetPaths = append(s.TargetPaths, string(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("subscribe: bad field %d", num)
			}
			b = b[n:]
		}
	}
	return s, nil
}

// Marshal encodes the (empty) heartbeat body.
func (h *HeartbeatReq) Marshal() []byte { return nil }
