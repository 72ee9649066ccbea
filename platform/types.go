package platform

import "strconv"

// Credentials are the cookie-based credentials for one account.
type Credentials struct {
	UID          int64
	SessionToken string
	CSRF         string
}

// CookieHeader renders the credentials as the Cookie request header the
// platform expects.
func (c Credentials) CookieHeader() string {
	return "user_id=" + strconv.FormatInt(c.UID, 10) + "; session_token=" + c.SessionToken
}

// CredentialSource supplies the active account's credentials. Read at
// connect/request time, never cached, so an account switch takes effect
// on the next call.
type CredentialSource interface {
	Active() (Credentials, error)
}

// Session types. Closed enum; matches the wire-level session id variants.
const (
	SessionTypeDirect int32 = 1
	SessionTypeGroup  int32 = 2
)

// Message types. Closed enum used by the platform.
const (
	MsgTypeText          int32 = 1
	MsgTypeImage         int32 = 2
	MsgTypeRecall        int32 = 5
	MsgTypeSticker       int32 = 6
	MsgTypeShareCard     int32 = 7
	MsgTypeNotifyCard    int32 = 10
	MsgTypeVideoPush     int32 = 11
	MsgTypeFanGroup      int32 = 12
	MsgTypeSystemTip     int32 = 18
	MsgTypeAIGenerated   int32 = 19
)

// Message statuses.
const (
	MsgStatusNormal   int32 = 0
	MsgStatusRecalled int32 = 1
)

// Message is one chat message within a session.
//
// MsgKey is the server-assigned unique identifier, carried as a decimal
// string because values exceed float64's safe-integer range. Provisional
// messages created locally before the server ack carry a synthesized key
// and are matched up by seqno when the confirmed copy arrives.
type Message struct {
	SenderUID    int64
	ReceiverID   int64
	ReceiverType int32
	MsgType      int32
	Content      string
	MsgSeqno     int64
	Timestamp    int64
	MsgKey       string
	Status       int32
}

// AccountInfo is the peer display info embedded in a session record.
type AccountInfo struct {
	Name   string
	PicURL string
}

// Session is one conversation, unique by (TalkerID, SessionType).
type Session struct {
	TalkerID    int64
	SessionType int32
	LastMsg     *Message
	UnreadCount int
	SessionTS   int64 // server-assigned ordering timestamp, unix millis
	AccountInfo *AccountInfo
}

// Key returns the identity pair for the session.
func (s *Session) Key() SessionKey {
	return SessionKey{TalkerID: s.TalkerID, SessionType: s.SessionType}
}

// SessionKey is the (talker id, session type) identity of a session.
type SessionKey struct {
	TalkerID    int64
	SessionType int32
}

// SessionCursor is the pagination cursor for the session list, derived
// from the last session of the previous page.
type SessionCursor struct {
	EndTS int64
}

// SessionPage is one page of the session list.
type SessionPage struct {
	Sessions   []Session
	HasMore    bool
	NextCursor SessionCursor
}

// MessagePage is one page of a session's messages, oldest first.
type MessagePage struct {
	Messages []Message
	HasMore  bool
	MinSeqno int64
	MaxSeqno int64
}

// UserInfo is a user's display profile.
type UserInfo struct {
	UID  int64
	Name string
	Face string
}

// SendReceipt is returned by SendMessage with the server-assigned key.
type SendReceipt struct {
	MsgKey string
}
