package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alexjbarnes/dmclient/internal/events"
	"github.com/alexjbarnes/dmclient/internal/push"
	"github.com/alexjbarnes/dmclient/platform"
)

// Fetcher is the REST surface the engine consumes. *platform.Client
// satisfies it; tests substitute a fake.
type Fetcher interface {
	FetchSessions(ctx context.Context, cursor platform.SessionCursor) (*platform.SessionPage, error)
	FetchMessages(ctx context.Context, talkerID int64, sessionType int32, size int, cursor int64) (*platform.MessagePage, error)
	FetchUserInfo(ctx context.Context, uids []int64) ([]platform.UserInfo, error)
	MarkRead(ctx context.Context, talkerID int64, sessionType int32, ackSeqno int64) error
	SendMessage(ctx context.Context, msg platform.Message) (*platform.SendReceipt, error)
	RecallMessage(ctx context.Context, talkerID int64, sessionType int32, msgKey string) error
}

// Notifier shows a system notification for a message arriving outside
// the selected session. Implementations must not block. Nil disables
// notifications.
type Notifier interface {
	Notify(senderName string, msg platform.Message)
}

// Engine applies push events and user intents to the Store, calling
// out to the REST collaborator when an event under-specifies the new
// state. Quiet fetches run asynchronously; their merges are idempotent
// and order-independent, so a superseded fetch completing late is
// harmless.
type Engine struct {
	logger   *slog.Logger
	api      Fetcher
	store    *Store
	creds    platform.CredentialSource
	notifier Notifier
	pageSize int

	onMessage  *events.Hub[platform.Message]
	onSessions *events.Hub[struct{}]
}

// NewEngine creates the reconciliation engine. pageSize bounds every
// message fetch.
func NewEngine(api Fetcher, store *Store, creds platform.CredentialSource, notifier Notifier, pageSize int, logger *slog.Logger) *Engine {
	return &Engine{
		logger:     logger,
		api:        api,
		store:      store,
		creds:      creds,
		notifier:   notifier,
		pageSize:   pageSize,
		onMessage:  events.NewHub[platform.Message](),
		onSessions: events.NewHub[struct{}](),
	}
}

// OnMessage registers a listener for messages newly added to the
// selected session's window.
func (e *Engine) OnMessage(fn func(platform.Message)) func() {
	return e.onMessage.Subscribe(fn)
}

// OnSessionsChanged registers a listener for session-list changes
// (ordering, unread counts, membership).
func (e *Engine) OnSessionsChanged(fn func()) func() {
	return e.onSessions.Subscribe(func(struct{}) { fn() })
}

// HandleEvent applies one normalized push event to the store.
func (e *Engine) HandleEvent(ctx context.Context, ev push.Event) {
	switch ev.Kind {
	case push.EventInstantMessage:
		e.handleInstantMessage(ctx, ev)

	case push.EventSessionListChanged, push.EventTotalUnreadChanged:
		e.quietRefreshSessions(ctx)

	case push.EventFetchMessageHint:
		e.handleFetchHint(ctx, ev)

	case push.EventQuickLinkChanged:
		// UI-only concern downstream; nothing to reconcile.

	default:
		e.logger.Debug("ignoring unknown push event", slog.Int("kind", int(ev.Kind)))
	}
}

func eventKey(ev push.Event) platform.SessionKey {
	return platform.SessionKey{TalkerID: ev.TalkerID, SessionType: ev.SessionType}
}

func (e *Engine) handleInstantMessage(ctx context.Context, ev push.Event) {
	key := eventKey(ev)
	selected, open := e.store.Selected()
	isCurrent := open && selected == key

	switch {
	case isCurrent && ev.Message != nil:
		if e.store.AppendIfAbsent(key, *ev.Message) {
			e.onMessage.Publish(*ev.Message)
		}

	case isCurrent:
		// Hint-only for the open session: quiet re-fetch of the latest
		// page, union-merged into the window.
		e.quietRefetchMessages(ctx, key)

	default:
		go e.notifyAbout(ctx, key, ev.Message)
	}

	e.touchSession(ctx, key, isCurrent, ev.Message)
}

// handleFetchHint treats a standalone hint as an instant-message event
// without payload. Hints made redundant by an instant-message event in
// the same frame never reach the engine; the router drops them.
func (e *Engine) handleFetchHint(ctx context.Context, ev push.Event) {
	e.handleInstantMessage(ctx, push.Event{
		Kind:        push.EventInstantMessage,
		TalkerID:    ev.TalkerID,
		SessionType: ev.SessionType,
	})
}

// touchSession updates the session record for an instant message:
// unread accounting, last-message refresh, bump to the front. A message
// for a session not in the local list means the list is stale; the
// server owns ordering and the cursor, so refresh instead of
// synthesizing a record.
func (e *Engine) touchSession(ctx context.Context, key platform.SessionKey, isCurrent bool, msg *platform.Message) {
	found := e.store.TouchSession(key, func(s *platform.Session) {
		if isCurrent {
			s.UnreadCount = 0
		} else {
			s.UnreadCount++
		}
		if msg != nil {
			m := *msg
			s.LastMsg = &m
		}
		s.SessionTS = time.Now().UnixMilli()
	})
	if !found {
		e.quietRefreshSessions(ctx)
		return
	}

	e.onSessions.Publish(struct{}{})
}

// notifyAbout resolves display text for a message outside the selected
// session and hands it to the notifier. When the event carried no
// payload, the session's single latest message is fetched first.
func (e *Engine) notifyAbout(ctx context.Context, key platform.SessionKey, msg *platform.Message) {
	if e.notifier == nil {
		return
	}

	if msg == nil {
		page, err := e.api.FetchMessages(ctx, key.TalkerID, key.SessionType, 1, 0)
		if err != nil {
			e.logger.Warn("fetching message for notification failed",
				slog.Int64("talker_id", key.TalkerID),
				slog.String("error", err.Error()),
			)
			return
		}
		if len(page.Messages) == 0 {
			return
		}
		m := page.Messages[len(page.Messages)-1]
		msg = &m
	}

	e.notifier.Notify(e.resolveName(ctx, key, msg.SenderUID), *msg)
}

// resolveName finds a sender's display name: user cache first, then the
// session's embedded account info, then one REST lookup (cached on
// success). Falls back to the decimal uid.
func (e *Engine) resolveName(ctx context.Context, key platform.SessionKey, uid int64) string {
	if u, ok := e.store.UserInfo(uid); ok && u.Name != "" {
		return u.Name
	}

	if sess, ok := e.store.Session(key); ok {
		if sess.SessionType == platform.SessionTypeDirect && sess.AccountInfo != nil && sess.AccountInfo.Name != "" {
			return sess.AccountInfo.Name
		}
	}

	users, err := e.api.FetchUserInfo(ctx, []int64{uid})
	if err == nil && len(users) > 0 && users[0].Name != "" {
		e.store.PutUsers(users)
		return users[0].Name
	}

	return strconv.FormatInt(uid, 10)
}

// LoadSessions replaces the session list with the first page from the
// server and resets the pagination cursor.
func (e *Engine) LoadSessions(ctx context.Context) error {
	page, err := e.api.FetchSessions(ctx, platform.SessionCursor{})
	if err != nil {
		return fmt.Errorf("fetching sessions: %w", err)
	}

	e.store.ReplaceSessions(page.Sessions, page.NextCursor, page.HasMore)
	e.onSessions.Publish(struct{}{})

	return nil
}

// LoadMoreSessions appends the next session page.
func (e *Engine) LoadMoreSessions(ctx context.Context) error {
	cursor, more := e.store.SessionCursor()
	if !more {
		return nil
	}

	page, err := e.api.FetchSessions(ctx, cursor)
	if err != nil {
		return fmt.Errorf("fetching sessions: %w", err)
	}

	e.store.AppendSessions(page.Sessions, page.NextCursor, page.HasMore)
	e.onSessions.Publish(struct{}{})

	return nil
}

// quietRefreshSessions refreshes the session list in the background.
// Failures are logged and dropped; the next push event self-heals.
func (e *Engine) quietRefreshSessions(ctx context.Context) {
	go func() {
		if err := e.LoadSessions(ctx); err != nil {
			e.logger.Warn("quiet session refresh failed", slog.String("error", err.Error()))
		}
	}()
}

// quietRefetchMessages fetches the latest page of the selected session
// in the background and union-merges it into the window. Failures are
// logged and dropped.
func (e *Engine) quietRefetchMessages(ctx context.Context, key platform.SessionKey) {
	go func() {
		page, err := e.api.FetchMessages(ctx, key.TalkerID, key.SessionType, e.pageSize, 0)
		if err != nil {
			e.logger.Warn("quiet message re-fetch failed",
				slog.Int64("talker_id", key.TalkerID),
				slog.String("error", err.Error()),
			)
			return
		}

		for _, m := range e.store.MergeMessages(key, page.Messages) {
			e.onMessage.Publish(m)
		}
	}()
}

// SelectSession opens a session: loads its first message page, resets
// its unread count, and acks the latest sequence number server-side.
func (e *Engine) SelectSession(ctx context.Context, key platform.SessionKey) error {
	page, err := e.api.FetchMessages(ctx, key.TalkerID, key.SessionType, e.pageSize, 0)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	e.store.Select(key, page.Messages, page.HasMore)
	e.store.UpdateSession(key, func(s *platform.Session) { s.UnreadCount = 0 })

	if page.MaxSeqno > 0 {
		// Best-effort; a failed ack resurfaces as unread on the next
		// session fetch.
		if err := e.api.MarkRead(ctx, key.TalkerID, key.SessionType, page.MaxSeqno); err != nil {
			e.logger.Warn("mark read failed",
				slog.Int64("talker_id", key.TalkerID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.onSessions.Publish(struct{}{})

	return nil
}

// CloseSession deselects the open session and drops its window.
func (e *Engine) CloseSession() {
	e.store.ClearSelection()
}

// LoadOlderMessages extends the selected session's window backwards by
// one page.
func (e *Engine) LoadOlderMessages(ctx context.Context) error {
	key, open := e.store.Selected()
	if !open || !e.store.HasMoreHistory() {
		return nil
	}

	page, err := e.api.FetchMessages(ctx, key.TalkerID, key.SessionType, e.pageSize, e.store.MinSeqno())
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	e.store.MergeMessages(key, page.Messages)
	e.store.SetHasMoreHistory(page.HasMore)

	return nil
}

// SendText sends a text message to the selected session. A provisional
// record with a synthesized key appears in the window immediately and
// is confirmed (or rolled back) when the server answers. The dual-key
// dedup keeps the push echo of our own message from duplicating it.
func (e *Engine) SendText(ctx context.Context, text string) (platform.Message, error) {
	key, open := e.store.Selected()
	if !open {
		return platform.Message{}, fmt.Errorf("no session selected")
	}

	creds, err := e.creds.Active()
	if err != nil {
		return platform.Message{}, fmt.Errorf("reading credentials: %w", err)
	}

	provisional := platform.Message{
		SenderUID:    creds.UID,
		ReceiverID:   key.TalkerID,
		ReceiverType: key.SessionType,
		MsgType:      platform.MsgTypeText,
		Content:      text,
		MsgSeqno:     e.store.MaxSeqno() + 1,
		Timestamp:    time.Now().UnixMilli(),
		MsgKey:       uuid.NewString(),
		Status:       platform.MsgStatusNormal,
	}
	if e.store.AppendIfAbsent(key, provisional) {
		e.onMessage.Publish(provisional)
	}

	receipt, err := e.api.SendMessage(ctx, provisional)
	if err != nil {
		e.store.RemoveMessage(provisional.MsgKey)
		return platform.Message{}, fmt.Errorf("sending message: %w", err)
	}

	e.store.ConfirmMessage(provisional.MsgKey, receipt.MsgKey)
	provisional.MsgKey = receipt.MsgKey

	msg := provisional
	e.store.TouchSession(key, func(s *platform.Session) {
		m := msg
		s.LastMsg = &m
		s.SessionTS = time.Now().UnixMilli()
	})
	e.onSessions.Publish(struct{}{})

	return provisional, nil
}

// Recall asks the server to recall a message from the selected session
// and flips its local status on success. Errors propagate for the UI to
// display.
func (e *Engine) Recall(ctx context.Context, msgKey string) error {
	key, open := e.store.Selected()
	if !open {
		return fmt.Errorf("no session selected")
	}

	if err := e.api.RecallMessage(ctx, key.TalkerID, key.SessionType, msgKey); err != nil {
		return fmt.Errorf("recalling message: %w", err)
	}

	e.store.MarkRecalled(msgKey)
	e.onSessions.Publish(struct{}{})

	return nil
}
