// Package reconcile merges asynchronous push notifications with
// paginated REST data into a consistent in-memory view: the session
// list in most-recently-active order, the selected session's message
// window, and a user-info cache. The Store holds that view; the Engine
// is the only writer.
package reconcile

import (
	"sort"
	"sync"

	"github.com/alexjbarnes/dmclient/platform"
)

// Store is the reconciled client-side state. Reads are safe from any
// goroutine; all mutation goes through the Engine.
type Store struct {
	mu sync.RWMutex

	sessions    []platform.Session // most-recent-first
	cursor      platform.SessionCursor
	moreSess    bool
	selected    *platform.SessionKey
	messages    []platform.Message // selected session only, timestamp asc
	moreHistory bool
	users       map[int64]platform.UserInfo
}

func NewStore() *Store {
	return &Store{users: make(map[int64]platform.UserInfo)}
}

// Sessions returns a copy of the session list, most-recent-first.
func (s *Store) Sessions() []platform.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]platform.Session(nil), s.sessions...)
}

// Session returns the session for key, if present.
func (s *Store) Session(key platform.SessionKey) (platform.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.sessions {
		if s.sessions[i].Key() == key {
			return s.sessions[i], true
		}
	}

	return platform.Session{}, false
}

// ReplaceSessions swaps in a freshly fetched session list and its
// pagination cursor. The server's ordering is authoritative.
func (s *Store) ReplaceSessions(list []platform.Session, cursor platform.SessionCursor, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = append([]platform.Session(nil), list...)
	s.cursor = cursor
	s.moreSess = hasMore
}

// AppendSessions adds an older page to the tail, skipping sessions
// already present, and advances the cursor.
func (s *Store) AppendSessions(list []platform.Session, cursor platform.SessionCursor, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[platform.SessionKey]struct{}, len(s.sessions))
	for i := range s.sessions {
		seen[s.sessions[i].Key()] = struct{}{}
	}
	for i := range list {
		if _, dup := seen[list[i].Key()]; dup {
			continue
		}
		s.sessions = append(s.sessions, list[i])
	}
	s.cursor = cursor
	s.moreSess = hasMore
}

// SessionCursor returns the current pagination cursor and whether more
// pages exist.
func (s *Store) SessionCursor() (platform.SessionCursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cursor, s.moreSess
}

// TouchSession applies mutate to the session for key and moves it to
// the front of the list. Reports whether the session was found.
func (s *Store) TouchSession(key platform.SessionKey, mutate func(*platform.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].Key() != key {
			continue
		}
		mutate(&s.sessions[i])
		sess := s.sessions[i]
		s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
		s.sessions = append([]platform.Session{sess}, s.sessions...)
		return true
	}

	return false
}

// UpdateSession applies mutate in place without reordering the list.
func (s *Store) UpdateSession(key platform.SessionKey, mutate func(*platform.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].Key() == key {
			mutate(&s.sessions[i])
			return true
		}
	}

	return false
}

// TotalUnread sums the unread counts across all loaded sessions.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for i := range s.sessions {
		n += s.sessions[i].UnreadCount
	}

	return n
}

// Selected returns the currently open session key, if any.
func (s *Store) Selected() (platform.SessionKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selected == nil {
		return platform.SessionKey{}, false
	}

	return *s.selected, true
}

// Select opens a session and installs its first message page, replacing
// whatever window was loaded before.
func (s *Store) Select(key platform.SessionKey, msgs []platform.Message, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key
	s.selected = &k
	s.messages = sortedByTimestamp(append([]platform.Message(nil), msgs...))
	s.moreHistory = hasMore
}

// ClearSelection closes the open session and drops its message window.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selected = nil
	s.messages = nil
	s.moreHistory = false
}

// Messages returns a copy of the selected session's message window,
// timestamp ascending.
func (s *Store) Messages() []platform.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]platform.Message(nil), s.messages...)
}

// HasMoreHistory reports whether older pages exist for the selected
// session.
func (s *Store) HasMoreHistory() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.moreHistory
}

// SetHasMoreHistory records whether older pages remain after a history
// fetch.
func (s *Store) SetHasMoreHistory(more bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.moreHistory = more
}

// MaxSeqno returns the highest sequence number in the loaded window.
func (s *Store) MaxSeqno() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for i := range s.messages {
		if s.messages[i].MsgSeqno > max {
			max = s.messages[i].MsgSeqno
		}
	}

	return max
}

// MinSeqno returns the lowest sequence number in the loaded window, or
// zero when the window is empty.
func (s *Store) MinSeqno() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var min int64
	for i := range s.messages {
		if min == 0 || s.messages[i].MsgSeqno < min {
			min = s.messages[i].MsgSeqno
		}
	}

	return min
}

// AppendIfAbsent appends msg to the message window of the selected
// session key. The absence check is dual-keyed: the message is a
// duplicate if any loaded message shares its key or its sequence
// number (provisional local sends carry a synthesized key but collide
// on seqno with the confirmed copy). Reports whether the message was
// appended. No-op when key is not the selected session.
func (s *Store) AppendIfAbsent(key platform.SessionKey, msg platform.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil || *s.selected != key {
		return false
	}
	if containsMessage(s.messages, msg) {
		return false
	}
	s.messages = sortedByTimestamp(append(s.messages, msg))

	return true
}

// MergeMessages unions a fetched page into the selected session's
// window using the dual-key absence check, then re-sorts by timestamp
// ascending. Safe to apply twice or out of order with a concurrent
// merge. Drops the page silently when key is no longer the selected
// session (a superseded fetch must not pollute another session's
// window). Returns the messages that were actually added.
func (s *Store) MergeMessages(key platform.SessionKey, incoming []platform.Message) []platform.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil || *s.selected != key {
		return nil
	}

	var added []platform.Message
	for i := range incoming {
		if containsMessage(s.messages, incoming[i]) {
			continue
		}
		s.messages = append(s.messages, incoming[i])
		added = append(added, incoming[i])
	}
	if len(added) > 0 {
		s.messages = sortedByTimestamp(s.messages)
	}

	return added
}

// ConfirmMessage swaps a provisional message's synthesized key for the
// server-assigned one.
func (s *Store) ConfirmMessage(provisionalKey, msgKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].MsgKey == provisionalKey {
			s.messages[i].MsgKey = msgKey
			return true
		}
	}

	return false
}

// RemoveMessage drops a message from the window by key. Used to roll
// back a provisional send the server rejected.
func (s *Store) RemoveMessage(msgKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].MsgKey == msgKey {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}

	return false
}

// MarkRecalled flips a message's status to recalled in place, in both
// the window and any session last-message summary that points at it.
func (s *Store) MarkRecalled(msgKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	for i := range s.messages {
		if s.messages[i].MsgKey == msgKey {
			s.messages[i].Status = platform.MsgStatusRecalled
			found = true
		}
	}
	for i := range s.sessions {
		if lm := s.sessions[i].LastMsg; lm != nil && lm.MsgKey == msgKey {
			lm.Status = platform.MsgStatusRecalled
		}
	}

	return found
}

// UserInfo returns the cached profile for uid.
func (s *Store) UserInfo(uid int64) (platform.UserInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[uid]

	return u, ok
}

// PutUsers caches fetched profiles.
func (s *Store) PutUsers(users []platform.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range users {
		s.users[u.UID] = u
	}
}

// containsMessage implements the dual-key duplicate check.
func containsMessage(list []platform.Message, msg platform.Message) bool {
	for i := range list {
		if list[i].MsgKey == msg.MsgKey {
			return true
		}
		if msg.MsgSeqno != 0 && list[i].MsgSeqno == msg.MsgSeqno {
			return true
		}
	}

	return false
}

func sortedByTimestamp(msgs []platform.Message) []platform.Message {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})

	return msgs
}
