package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alexjbarnes/dmclient/internal/errors"
)

type staticCreds struct {
	creds Credentials
	err   error
}

func (s staticCreds) Active() (Credentials, error) { return s.creds, s.err }

// newTestClient creates a Client pointed at the given httptest server.
func newTestClient(srv *httptest.Server) *Client {
	return &Client{
		httpClient: srv.Client(),
		baseURL:    srv.URL,
		creds:      staticCreds{creds: Credentials{UID: 42, SessionToken: "tok", CSRF: "csrf-1"}},
	}
}

func TestDo_SetsCookieHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user_id=42; session_token=tok", r.Header.Get("Cookie"))
		w.Write([]byte(`{"code":0,"data":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.get(context.Background(), "/dm/v1/new_unread", nil)
	require.NoError(t, err)
}

func TestDo_NoCredentials(t *testing.T) {
	c := &Client{
		httpClient: http.DefaultClient,
		baseURL:    "https://unused.invalid",
		creds:      staticCreds{err: apperrors.ErrAuthUnavailable},
	}

	_, err := c.get(context.Background(), "/dm/v1/sessions", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuthUnavailable)
}

func TestDo_NotLoginMapsToSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-101,"message":"account not logged in"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.FetchSessions(context.Background(), SessionCursor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
}

func TestDo_WrongAccountMapsToTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":10003,"message":"wrong account"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.RecallMessage(context.Background(), 555, SessionTypeDirect, "123")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrWrongAccount)
}

func TestDo_UnknownCodeIsAPIResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":500,"message":"server sad"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.NewSessionCount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAPIResponse)
	assert.ErrorContains(t, err, "server sad")
}

func TestDo_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.NewSessionCount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAPIRequest)
}

func TestFetchSessions_DecodesPageAndCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dm/v1/sessions", r.URL.Path)
		w.Write([]byte(`{"code":0,"data":{
			"session_list":[
				{"talker_id":555,"session_type":1,"unread_count":2,"session_ts":1000,
				 "last_msg":{"sender_uid":555,"msg_type":1,"content":"{\"content\":\"hi\"}","msg_seqno":9,"timestamp":99,"msg_key":9007199254740993},
				 "account_info":{"name":"Talker","pic_url":"https://p/x.png"}},
				{"talker_id":900,"session_type":2,"unread_count":0,"session_ts":900}
			],
			"has_more":true}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	page, err := c.FetchSessions(context.Background(), SessionCursor{})
	require.NoError(t, err)

	require.Len(t, page.Sessions, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(900), page.NextCursor.EndTS, "cursor derives from the last item")

	first := page.Sessions[0]
	assert.Equal(t, int64(555), first.TalkerID)
	assert.Equal(t, SessionTypeDirect, first.SessionType)
	assert.Equal(t, 2, first.UnreadCount)
	require.NotNil(t, first.LastMsg)
	assert.Equal(t, "9007199254740993", first.LastMsg.MsgKey)
	require.NotNil(t, first.AccountInfo)
	assert.Equal(t, "Talker", first.AccountInfo.Name)
}

func TestFetchMessages_PreservesBigMessageKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "555", r.URL.Query().Get("talker_id"))
		assert.Equal(t, "20", r.URL.Query().Get("size"))
		// One key as a JSON number, one as a string. Both must come out
		// with their exact digits.
		w.Write([]byte(`{"code":0,"data":{
			"messages":[
				{"sender_uid":555,"msg_seqno":1,"timestamp":10,"msg_key":18446744073709551615},
				{"sender_uid":42,"msg_seqno":2,"timestamp":20,"msg_key":"9223372036854775807"}
			],
			"has_more":false,"min_seqno":1,"max_seqno":2}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	page, err := c.FetchMessages(context.Background(), 555, SessionTypeDirect, 20, 0)
	require.NoError(t, err)

	require.Len(t, page.Messages, 2)
	assert.Equal(t, "18446744073709551615", page.Messages[0].MsgKey)
	assert.Equal(t, "9223372036854775807", page.Messages[1].MsgKey)
	assert.Equal(t, int64(2), page.MaxSeqno)
}

func TestFetchUserInfo_DecodesUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "555,900", r.URL.Query().Get("uids"))
		w.Write([]byte(`{"code":0,"data":{"users":[{"uid":555,"name":"A"},{"uid":900,"name":"B"}]}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	users, err := c.FetchUserInfo(context.Background(), []int64{555, 900})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "A", users[0].Name)
}

func TestMarkRead_SendsCSRFForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "csrf-1", r.PostForm.Get("csrf"))
		assert.Equal(t, "555", r.PostForm.Get("talker_id"))
		assert.Equal(t, "12", r.PostForm.Get("ack_seqno"))
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.MarkRead(context.Background(), 555, SessionTypeDirect, 12)
	require.NoError(t, err)
}

func TestSendMessage_ReturnsServerKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"msg_key":9007199254740995}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	receipt, err := c.SendMessage(context.Background(), Message{
		SenderUID:    42,
		ReceiverID:   555,
		ReceiverType: SessionTypeDirect,
		MsgType:      MsgTypeText,
		Content:      `{"content":"hello"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "9007199254740995", receipt.MsgKey)
}
