package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	midsec "PPresence/middleware/security"
	"PPresence/service/natsx"
	"PPresence/service/natsx/natsxtest"
	jwtsec "PPresence/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv  *Server
	reg  *natsx.Registry
	http *httptest.Server
	jwt  jwtsec.Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwt := jwtsec.DefaultOptions([]byte("k"))
	bus := natsxtest.NewBus()
	reg := natsx.NewRegistry(bus.Conn("gw"), natsx.WithReleaseSettle(time.Millisecond))
	srv := NewServer(reg, Conf{})

	auth := midsec.DefaultOptions(jwt)
	auth.QueryToken = "token"
	r := gin.New()
	r.GET("/ws", midsec.Middleware(auth), srv.HandleWS)
	hs := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
		reg.Close()
	})
	return &harness{srv: srv, reg: reg, http: hs, jwt: jwt}
}

func (h *harness) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	tok, _, err := jwtsec.Generate(h.jwt, user, "", "")
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws?token=" + tok
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return ws
}

func read(t *testing.T, ws *websocket.Conn) Out {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var o Out
	require.NoError(t, ws.ReadJSON(&o))
	return o
}

func TestGatewayDeliversAndReleases(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "u1")

	require.NoError(t, ws.WriteJSON(Frame{Op: OpSubscribe, Topic: "project:p1", Event: "card:created"}))
	ack := read(t, ws)
	assert.Equal(t, OpSubscribed, ack.Op)
	assert.Equal(t, 1, h.reg.Handlers("project:p1"))

	require.NoError(t, h.reg.Publish(context.Background(), "project:p1", "card:created", map[string]string{"id": "c1"}))
	require.NoError(t, h.reg.Publish(context.Background(), "project:p1", "card:deleted", map[string]string{"id": "c1"}))

	got := read(t, ws)
	assert.Equal(t, OpEvent, got.Op)
	assert.Equal(t, "card:created", got.Event)
	assert.JSONEq(t, `{"id":"c1"}`, string(got.Data))
	assert.NotEmpty(t, got.ID)

	require.NoError(t, ws.WriteJSON(Frame{Op: OpPing}))
	assert.Equal(t, OpPong, read(t, ws).Op)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		return h.reg.Handlers("project:p1") == 0 && h.srv.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayUnsubscribeAndRejects(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "u1")
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(Frame{Op: OpSubscribe, Topic: "user:u2"}))
	o := read(t, ws)
	assert.Equal(t, OpError, o.Op)
	assert.Equal(t, "forbidden", o.Error)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"op":"dance"}`)))
	assert.Equal(t, OpError, read(t, ws).Op)

	require.NoError(t, ws.WriteJSON(Frame{Op: OpSubscribe, Topic: "user:u1"}))
	assert.Equal(t, OpSubscribed, read(t, ws).Op)
	require.NoError(t, ws.WriteJSON(Frame{Op: OpSubscribe, Topic: "user:u1"}))
	assert.Equal(t, OpSubscribed, read(t, ws).Op)
	assert.Equal(t, 1, h.reg.Handlers("user:u1"))
	assert.Equal(t, 1, h.srv.UserConns("u1"))

	require.NoError(t, ws.WriteJSON(Frame{Op: OpUnsubscribe, Topic: "user:u1"}))
	assert.Equal(t, OpUnsubscribed, read(t, ws).Op)
	assert.Equal(t, 0, h.reg.Handlers("user:u1"))
}

func TestGatewayRequiresToken(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestParseFrame(t *testing.T) {
	_, err := ParseFrame([]byte(`{"op":"subscribe"}`))
	assert.Error(t, err)
	f, err := ParseFrame([]byte(`{"op":"unsubscribe","topic":"team:t1"}`))
	require.NoError(t, err)
	assert.Equal(t, "team:t1", f.Topic)
}
