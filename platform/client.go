// Package platform talks to the social platform's private-messaging
// REST API. The reconciliation engine consumes it as an opaque
// collaborator: request in, decoded page out.
package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/alexjbarnes/dmclient/internal/errors"
)

// API response codes. Zero is success; the rest map to typed errors the
// UI layer can branch on.
const (
	codeOK           = 0
	codeNotLogin     = -101
	codeWrongAccount = 10003
)

// Client talks to the platform REST API. All requests carry the active
// account's cookie credentials, read per call.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      CredentialSource
}

// NewClient creates an API client for the given host. If httpClient is
// nil, http.DefaultClient is used.
func NewClient(httpClient *http.Client, host string, creds CredentialSource) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    "https://" + host,
		creds:      creds,
	}
}

// do sends the request and returns the envelope's data element as raw
// JSON after checking the business code.
func (c *Client) do(req *http.Request) ([]byte, error) {
	creds, err := c.creds.Active()
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	req.Header.Set("Cookie", creds.CookieHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request to %s: %v", apperrors.ErrAPIRequest, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response from %s: %v", apperrors.ErrAPIRequest, req.URL.Path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", apperrors.ErrAPIRequest, req.URL.Path, resp.StatusCode)
	}

	code := gjson.GetBytes(body, "code")
	if !code.Exists() {
		return nil, fmt.Errorf("%w: %s: missing code", apperrors.ErrAPIResponse, req.URL.Path)
	}

	switch code.Int() {
	case codeOK:
	case codeNotLogin:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSessionExpired, gjson.GetBytes(body, "message").Str)
	case codeWrongAccount:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrWrongAccount, gjson.GetBytes(body, "message").Str)
	default:
		return nil, fmt.Errorf("%w: %s: code %d: %s",
			apperrors.ErrAPIResponse, req.URL.Path, code.Int(), gjson.GetBytes(body, "message").Str)
	}

	return []byte(gjson.GetBytes(body, "data").Raw), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	creds, err := c.creds.Active()
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	form.Set("csrf", creds.CSRF)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// rawDigits returns the exact decimal text of a JSON number or string
// token. Message keys exceed 2^53, so going through Result.Num (a
// float64) would corrupt the low digits; the raw token never does.
func rawDigits(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Raw
}

func decodeMessage(m gjson.Result) Message {
	return Message{
		SenderUID:    m.Get("sender_uid").Int(),
		ReceiverID:   m.Get("receiver_id").Int(),
		ReceiverType: int32(m.Get("receiver_type").Int()),
		MsgType:      int32(m.Get("msg_type").Int()),
		Content:      m.Get("content").Str,
		MsgSeqno:     m.Get("msg_seqno").Int(),
		Timestamp:    m.Get("timestamp").Int(),
		MsgKey:       rawDigits(m.Get("msg_key")),
		Status:       int32(m.Get("msg_status").Int()),
	}
}

// FetchSessions returns one page of the session list, newest first.
// A zero cursor fetches the first page.
func (c *Client) FetchSessions(ctx context.Context, cursor SessionCursor) (*SessionPage, error) {
	q := url.Values{}
	if cursor.EndTS != 0 {
		q.Set("end_ts", strconv.FormatInt(cursor.EndTS, 10))
	}

	data, err := c.get(ctx, "/dm/v1/sessions", q)
	if err != nil {
		return nil, fmt.Errorf("fetching sessions: %w", err)
	}

	page := &SessionPage{HasMore: gjson.GetBytes(data, "has_more").Bool()}
	gjson.GetBytes(data, "session_list").ForEach(func(_, s gjson.Result) bool {
		sess := Session{
			TalkerID:    s.Get("talker_id").Int(),
			SessionType: int32(s.Get("session_type").Int()),
			UnreadCount: int(s.Get("unread_count").Int()),
			SessionTS:   s.Get("session_ts").Int(),
		}
		if last := s.Get("last_msg"); last.Exists() {
			m := decodeMessage(last)
			sess.LastMsg = &m
		}
		if info := s.Get("account_info"); info.Exists() {
			sess.AccountInfo = &AccountInfo{
				Name:   info.Get("name").Str,
				PicURL: info.Get("pic_url").Str,
			}
		}
		page.Sessions = append(page.Sessions, sess)
		return true
	})

	// The next cursor is recomputed from the last item; the server-side
	// ordering timestamp is authoritative.
	if n := len(page.Sessions); n > 0 {
		page.NextCursor = SessionCursor{EndTS: page.Sessions[n-1].SessionTS}
	}
	return page, nil
}

// FetchMessages returns up to size messages of one session ending at
// cursor (0 means latest), oldest first.
func (c *Client) FetchMessages(ctx context.Context, talkerID int64, sessionType int32, size int, cursor int64) (*MessagePage, error) {
	q := url.Values{}
	q.Set("talker_id", strconv.FormatInt(talkerID, 10))
	q.Set("session_type", strconv.FormatInt(int64(sessionType), 10))
	q.Set("size", strconv.Itoa(size))
	if cursor != 0 {
		q.Set("end_seqno", strconv.FormatInt(cursor, 10))
	}

	data, err := c.get(ctx, "/dm/v1/session_msgs", q)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	page := &MessagePage{
		HasMore:  gjson.GetBytes(data, "has_more").Bool(),
		MinSeqno: gjson.GetBytes(data, "min_seqno").Int(),
		MaxSeqno: gjson.GetBytes(data, "max_seqno").Int(),
	}
	gjson.GetBytes(data, "messages").ForEach(func(_, m gjson.Result) bool {
		page.Messages = append(page.Messages, decodeMessage(m))
		return true
	})
	return page, nil
}

// FetchUserInfo resolves display profiles for the given uids.
func (c *Client) FetchUserInfo(ctx context.Context, uids []int64) ([]UserInfo, error) {
	parts := make([]string, len(uids))
	for i, uid := range uids {
		parts[i] = strconv.FormatInt(uid, 10)
	}
	q := url.Values{}
	q.Set("uids", strings.Join(parts, ","))

	data, err := c.get(ctx, "/dm/v1/user_infos", q)
	if err != nil {
		return nil, fmt.Errorf("fetching user infos: %w", err)
	}

	var users []UserInfo
	gjson.GetBytes(data, "users").ForEach(func(_, u gjson.Result) bool {
		users = append(users, UserInfo{
			UID:  u.Get("uid").Int(),
			Name: u.Get("name").Str,
			Face: u.Get("face").Str,
		})
		return true
	})
	return users, nil
}

// MarkRead acknowledges messages of one session up to ackSeqno.
func (c *Client) MarkRead(ctx context.Context, talkerID int64, sessionType int32, ackSeqno int64) error {
	form := url.Values{}
	form.Set("talker_id", strconv.FormatInt(talkerID, 10))
	form.Set("session_type", strconv.FormatInt(int64(sessionType), 10))
	form.Set("ack_seqno", strconv.FormatInt(ackSeqno, 10))

	if _, err := c.postForm(ctx, "/dm/v1/update_ack", form); err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	return nil
}

// SendMessage sends one message and returns the server-assigned key.
// Business failures (expired session, wrong account) come back as typed
// errors for the UI to surface; the core never retries them.
func (c *Client) SendMessage(ctx context.Context, msg Message) (*SendReceipt, error) {
	form := url.Values{}
	form.Set("sender_uid", strconv.FormatInt(msg.SenderUID, 10))
	form.Set("receiver_id", strconv.FormatInt(msg.ReceiverID, 10))
	form.Set("receiver_type", strconv.FormatInt(int64(msg.ReceiverType), 10))
	form.Set("msg_type", strconv.FormatInt(int64(msg.MsgType), 10))
	form.Set("content", msg.Content)
	form.Set("timestamp", strconv.FormatInt(msg.Timestamp, 10))

	data, err := c.postForm(ctx, "/dm/v1/send_msg", form)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	return &SendReceipt{MsgKey: rawDigits(gjson.GetBytes(data, "msg_key"))}, nil
}

// RecallMessage recalls a previously sent message by key.
func (c *Client) RecallMessage(ctx context.Context, talkerID int64, sessionType int32, msgKey string) error {
	form := url.Values{}
	form.Set("talker_id", strconv.FormatInt(talkerID, 10))
	form.Set("session_type", strconv.FormatInt(int64(sessionType), 10))
	form.Set("msg_key", msgKey)

	if _, err := c.postForm(ctx, "/dm/v1/recall_msg", form); err != nil {
		return fmt.Errorf("recalling message: %w", err)
	}
	return nil
}

// NewSessionCount returns the total-unread badge count.
func (c *Client) NewSessionCount(ctx context.Context) (int, error) {
	data, err := c.get(ctx, "/dm/v1/new_unread", nil)
	if err != nil {
		return 0, fmt.Errorf("fetching unread count: %w", err)
	}
	return int(gjson.GetBytes(data, "count").Int()), nil
}
